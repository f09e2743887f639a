package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/corvuslabs/corvus/internal/registry"
)

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "Manage the framework registry",
}

var frameworksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered framework versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := registry.Open(cfg.Data.RegistryPath())
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.All(cmd.Context())
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("no frameworks registered")
			return nil
		}

		fmt.Printf("%-24s %-8s %-14s %-8s %s\n", "NAME", "VERSION", "HASH", "STATUS", "CREATED")
		for _, fv := range versions {
			fmt.Printf("%-24s v%-7d %-14s %-8s %s\n",
				fv.Name, fv.Version, fv.ContentHash.Short(), fv.Status,
				fv.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var frameworksRegisterCmd = &cobra.Command{
	Use:   "register NAME PATH",
	Short: "Register a new framework from a file",
	Long: `Register creates version 1 for a framework that has no registry
rows yet. Later content changes are minted as new versions automatically
during run validation.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read framework: %w", err)
		}
		var structural any
		if err := yaml.Unmarshal(content, &structural); err != nil {
			return fmt.Errorf("framework %s is not well-formed: %w", name, err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := registry.Open(cfg.Data.RegistryPath())
		if err != nil {
			return err
		}
		defer store.Close()

		fv, err := store.Register(cmd.Context(), name, content)
		if err != nil {
			return err
		}
		fmt.Printf("registered %s v%d (%s)\n", fv.Name, fv.Version, fv.ContentHash.Short())
		return nil
	},
}

func init() {
	frameworksCmd.AddCommand(frameworksListCmd)
	frameworksCmd.AddCommand(frameworksRegisterCmd)
}
