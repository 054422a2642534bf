package cmd

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "有効な設定をYAMLで表示する",
		Long:  "デフォルト値、設定ファイル、環境変数 (SENSORSTREAM_*)、フラグを反映した設定を表示します。",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
