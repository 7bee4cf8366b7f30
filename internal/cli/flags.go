package cli

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bind maps a flag onto a dotted config key. Only flags the user actually
// set override the config file.
func bind(v *viper.Viper, flag *pflag.Flag, key string) {
	if flag == nil {
		return
	}
	// BindPFlag only fails on a nil flag
	_ = v.BindPFlag(key, flag)
}
