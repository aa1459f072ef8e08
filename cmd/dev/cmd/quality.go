package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func qualityCmd(use, short string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return qualityCmd("test", "Run the unit tests, the simulated bus included", test.Test)
}

func LintCmd() *cobra.Command {
	return qualityCmd("lint", "Run the linters", test.Lint)
}

// IntegrationTestCmd runs the tests that need a bridge or a host bus attached.
func IntegrationTestCmd() *cobra.Command {
	return qualityCmd("integration-test", "Run the hardware tests", test.Integ)
}
