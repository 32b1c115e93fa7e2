package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gel2mdt-server/internal/mcp"
	"github.com/gel2mdt-server/internal/setup"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only case tools to an MCP client over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.NewServer(a.config.MCP, a.caseService, a.mdtService, a.logger).Run(ctx)
		},
	}
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register gel2mdt with a desktop MCP client",
	}
	cmd.PersistentFlags().String("client-config", "", "MCP client config file (defaults to the Claude Desktop location)")

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Add or replace the gel2mdt entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientConfig, _ := cmd.Flags().GetString("client-config")
			binary, _ := cmd.Flags().GetString("binary")
			configFile, _ := cmd.Flags().GetString("config")

			entry, err := setup.Register(setup.Options{
				ClientConfigPath: clientConfig,
				BinaryPath:       binary,
				ConfigFile:       configFile,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s: %s %v\n", setup.EntryName, entry.Command, entry.Args)
			return nil
		},
	}
	registerCmd.Flags().String("binary", "", "Path to the gel2mdt binary (defaults to this executable)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether gel2mdt is registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientConfig, _ := cmd.Flags().GetString("client-config")
			status, err := setup.GetStatus(clientConfig)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client config: %s\n", status.ClientConfigPath)
			fmt.Fprintf(out, "Registered:    %t\n", status.Registered)
			if status.Registered {
				fmt.Fprintf(out, "Command:       %s %v\n", status.Entry.Command, status.Entry.Args)
			}
			for _, issue := range status.Issues {
				fmt.Fprintf(out, "  ! %s\n", issue)
			}
			return nil
		},
	}

	unregisterCmd := &cobra.Command{
		Use:   "unregister",
		Short: "Remove the gel2mdt entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientConfig, _ := cmd.Flags().GetString("client-config")
			removed, err := setup.Unregister(clientConfig)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "gel2mdt was not registered")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "gel2mdt removed")
			return nil
		},
	}

	cmd.AddCommand(registerCmd, statusCmd, unregisterCmd)
	return cmd
}
