package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errNoFrameCaptured はワンショット取得で画像が得られなかったことを示す
var errNoFrameCaptured = errors.New("フレームを取得できませんでした")

func newCaptureCmd(flags *globalFlags) *cobra.Command {
	var (
		colorOut string
		depthOut string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "1フレームだけ取得して画像ファイルに保存する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			frame, err := a.Manager.CaptureOnce(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", errNoFrameCaptured, err)
			}
			if !frame.Valid() {
				return fmt.Errorf("%w: %s", errNoFrameCaptured, frame.Error)
			}

			colorJPEG, err := a.Encoder.EncodeColor(frame.Color)
			if err != nil {
				return err
			}
			if err := os.WriteFile(colorOut, colorJPEG, 0o644); err != nil {
				return fmt.Errorf("画像の保存に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", frame.ID, colorOut)

			if frame.Depth != nil && depthOut != "" {
				depthPNG, err := a.Encoder.EncodeDepth(frame.Depth)
				if err != nil {
					return err
				}
				if err := os.WriteFile(depthOut, depthPNG, 0o644); err != nil {
					return fmt.Errorf("深度画像の保存に失敗: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", frame.ID, depthOut)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&colorOut, "out", "o", "capture.jpg", "カラー画像の保存先")
	cmd.Flags().StringVar(&depthOut, "depth-out", "capture_depth.png", "深度画像の保存先（深度有効時のみ）")
	return cmd
}
