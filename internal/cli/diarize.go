package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/podcast-animator/internal/config"
	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/media"
)

type diarizeOutput struct {
	File         string                                      `json:"file"`
	Duration     float64                                     `json:"duration"`
	Seconds      int                                         `json:"seconds"`
	Timeline     diarize.Timeline                            `json:"timeline"`
	Swapped      bool                                        `json:"swapped"`
	SpeakingTime [diarize.NumSpeakers]int                    `json:"speaking_time"`
	Scores       [][diarize.NumSpeakers]diarize.ChannelScore `json:"scores,omitempty"`
}

func NewDiarizeCmd(deps *Dependencies) *cobra.Command {
	var scores bool

	cmd := &cobra.Command{
		Use:   "diarize <file>",
		Short: "Print the per-second speaker timeline of a stereo recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, res, err := analyze(cmd.Context(), deps.Config, args[0], scores)
			if err != nil {
				return err
			}

			out := diarizeOutput{
				File:         filepath.Base(args[0]),
				Duration:     res.Duration,
				Seconds:      len(res.Timeline),
				Timeline:     res.Timeline,
				Swapped:      res.Swapped,
				SpeakingTime: res.SpeakingTime(),
				Scores:       res.Scores,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().Float64("bias", 0, "Consistency bias toward the previous speaker (overrides diarization.consistency_bias)")
	cmd.Flags().Float64("threshold", 0, "Activity threshold for the first speaker (overrides diarization.activity_threshold)")
	cmd.Flags().BoolVar(&scores, "scores", false, "Include per-second channel scores")
	bind(deps.Viper, cmd.Flags().Lookup("bias"), "diarization.consistency_bias")
	bind(deps.Viper, cmd.Flags().Lookup("threshold"), "diarization.activity_threshold")

	return cmd
}

// analyze decodes path and runs the diarizer with the configured tuning
func analyze(ctx context.Context, cfg *config.Config, path string, keepScores bool) (*diarize.Buffer, *diarize.Result, error) {
	buf, err := media.NewDecoder(cfg.Storage.TempDir).Decode(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	var opts []diarize.Option
	if keepScores {
		opts = append(opts, diarize.WithScores())
	}
	res, err := diarize.New(cfg.Diarization, opts...).Run(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("diarizing %s: %w", path, err)
	}
	return buf, res, nil
}
