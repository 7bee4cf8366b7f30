package cli

import (
	"errors"
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/podcast-animator/internal/avatar"
	"github.com/codebuildervaibhav/podcast-animator/internal/export"
)

func NewExportCmd(deps *Dependencies) *cobra.Command {
	var (
		handle1  string
		handle2  string
		position float64
		outDir   string
		still    bool
	)

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Render the speaker animation of a recording to MP4 (or PNG)",
		Long:  "Diarizes the file and renders it to an MP4 with the original audio. Without ffmpeg, or with --still, a single PNG at --position is written instead.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			ctx := cmd.Context()

			handles := [2]string{avatar.CleanHandle(handle1), avatar.CleanHandle(handle2)}
			for i, h := range handles {
				if !avatar.ValidHandle(h) {
					return fmt.Errorf("--handle%d %q is not a valid X handle", i+1, h)
				}
			}

			buf, res, err := analyze(ctx, cfg, args[0], false)
			if err != nil {
				return err
			}

			resolver := avatar.NewXResolver(cfg.X.BaseURL, cfg.X.BearerToken)
			loader := avatar.NewLoader(nil)
			var avatars [2]image.Image
			for i, h := range handles {
				profile := resolver.Resolve(ctx, h)
				img, err := loader.Load(ctx, profile.ProfileImageURL)
				if err != nil && !errors.Is(err, avatar.ErrAvatarUnavailable) {
					log.WithError(err).WithField("handle", h).Warn("avatar not loaded")
				}
				avatars[i] = img
			}

			if outDir == "" {
				outDir = cfg.Storage.ExportDir
			}
			var opts []export.Option
			if still {
				opts = append(opts, export.WithFFmpegCheck(func() bool { return false }))
			}
			exporter := export.New(outDir, cfg.Storage.TempDir, opts...)

			art, err := exporter.Export(ctx, export.Request{
				Timeline: res.Timeline,
				Duration: res.Duration,
				Audio:    buf,
				Handles:  handles,
				Avatars:  avatars,
				FPS:      cfg.Render.FPS,
				Width:    cfg.Render.Width,
				Height:   cfg.Render.Height,
				Position: position,
			})
			if err != nil {
				return err
			}

			writeLine(cmd.OutOrStdout(), art.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&handle1, "handle1", "", "X handle of the left speaker")
	cmd.Flags().StringVar(&handle2, "handle2", "", "X handle of the right speaker")
	cmd.Flags().Float64Var(&position, "position", 0, "Playhead in seconds for the still image")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default storage.export_dir)")
	cmd.Flags().BoolVar(&still, "still", false, "Write a PNG still even when ffmpeg is available")
	cmd.Flags().Int("fps", 0, "Frames per second (overrides render.fps)")
	bind(deps.Viper, cmd.Flags().Lookup("fps"), "render.fps")
	_ = cmd.MarkFlagRequired("handle1")
	_ = cmd.MarkFlagRequired("handle2")

	return cmd
}
