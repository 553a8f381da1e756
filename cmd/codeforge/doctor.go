package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/segmentationf4u1t/codeforge/internal/config"
)

// buildDoctorCmd creates the "doctor" command, which validates configuration
// and the runtime environment without starting the agent loop.
func buildDoctorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and the runtime environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(*configPath)
		},
	}
}

func runDoctor(configPath string) error {
	checks := []struct {
		name string
		run  func() error
	}{
		{"config file parses", func() error {
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				fmt.Printf("  skip: %s does not exist, defaults will be used\n", configPath)
				return nil
			}
			_, err := config.Load(configPath)
			return err
		}},
		{"session data directory is writable", func() error {
			dir := sessionDataDir()
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			probe := dir + "/.doctor-probe"
			if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
				return err
			}
			return os.Remove(probe)
		}},
		{"LLM provider credentials are set", func() error {
			for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "VENICE_API_KEY"} {
				if os.Getenv(key) != "" {
					return nil
				}
			}
			return fmt.Errorf("no LLM provider credentials found in environment")
		}},
	}

	failed := 0
	for _, c := range checks {
		if err := c.run(); err != nil {
			fmt.Printf("FAIL  %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("OK    %s\n", c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
