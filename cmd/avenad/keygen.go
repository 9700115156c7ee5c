package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nats-io/nkeys"
	"github.com/spf13/cobra"

	"github.com/oats-center/avena/pkg/jwtauth"
	"github.com/oats-center/avena/pkg/meshconfig"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate NATS JWT credentials for the mesh",
}

func init() {
	keygenInitCmd.Flags().StringP("output", "o", ".", "Output directory for credentials")
	keygenCmd.AddCommand(keygenInitCmd)

	keygenLeafUserCmd.Flags().StringP("account-dir", "a", ".", "Directory containing the AVENA.nk account seed")
	keygenLeafUserCmd.Flags().StringP("name", "n", "", "Name for the leaf user (required)")
	keygenLeafUserCmd.Flags().StringP("output", "o", "", "Output path for the creds file (required)")
	_ = keygenLeafUserCmd.MarkFlagRequired("name")
	_ = keygenLeafUserCmd.MarkFlagRequired("output")
	keygenCmd.AddCommand(keygenLeafUserCmd)

	keygenHubConfigCmd.Flags().StringP("creds-dir", "c", ".", "Directory containing the JWTs and seeds")
	keygenHubConfigCmd.Flags().StringP("output", "o", "", "Output path for the rendered config (required)")
	_ = keygenHubConfigCmd.MarkFlagRequired("output")
	keygenCmd.AddCommand(keygenHubConfigCmd)
}

var keygenInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the full operator/SYS/AVENA credential chain and admin users",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := os.MkdirAll(output, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		if _, err := jwtauth.SetupOperatorMode(output); err != nil {
			return fmt.Errorf("bootstrap operator mode: %w", err)
		}

		fmt.Printf("Generated credentials in %s\n", output)
		fmt.Println("Files created:")
		fmt.Println("  operator.nk        - Operator seed")
		fmt.Println("  operator.jwt       - Operator JWT")
		fmt.Println("  SYS.nk             - System account seed")
		fmt.Println("  SYS.jwt            - System account JWT")
		fmt.Println("  sys-admin.creds    - System admin user credentials")
		fmt.Println("  AVENA.nk           - Avena account seed")
		fmt.Println("  AVENA.jwt          - Avena account JWT")
		fmt.Println("  avena-admin.creds  - Avena admin user credentials")
		return nil
	},
}

var keygenLeafUserCmd = &cobra.Command{
	Use:   "leaf-user",
	Short: "Generate a leaf node user credential under the AVENA account",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountDir, _ := cmd.Flags().GetString("account-dir")
		name, _ := cmd.Flags().GetString("name")
		output, _ := cmd.Flags().GetString("output")

		mgr, err := jwtauth.LoadOrGenerate(accountDir)
		if err != nil {
			return fmt.Errorf("load operator keypair: %w", err)
		}

		avenaSeed, err := os.ReadFile(filepath.Join(accountDir, "AVENA.nk"))
		if err != nil {
			return fmt.Errorf("read AVENA.nk: %w", err)
		}
		avenaKP, err := nkeys.FromSeed([]byte(strings.TrimSpace(string(avenaSeed))))
		if err != nil {
			return fmt.Errorf("parse AVENA seed: %w", err)
		}

		jwt, userKP, err := mgr.GenerateUserJWT(avenaKP, name, []string{">"}, []string{">"})
		if err != nil {
			return fmt.Errorf("generate leaf user jwt: %w", err)
		}
		creds, err := jwtauth.CreateCredsFile(jwt, userKP)
		if err != nil {
			return fmt.Errorf("render creds file: %w", err)
		}

		if parent := filepath.Dir(output); parent != "" {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		if err := os.WriteFile(output, []byte(creds), 0o600); err != nil {
			return fmt.Errorf("write creds file: %w", err)
		}

		fmt.Printf("Generated leaf user credentials: %s\n", output)
		return nil
	},
}

var keygenHubConfigCmd = &cobra.Command{
	Use:   "hub-config",
	Short: "Render an initial NATS server config from a credential chain, with no leaf remotes yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		credsDir, _ := cmd.Flags().GetString("creds-dir")
		output, _ := cmd.Flags().GetString("output")

		conf, err := meshconfig.Render(credsDir, nil)
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}

		if parent := filepath.Dir(output); parent != "" {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		if err := os.WriteFile(output, []byte(conf), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		fmt.Printf("Generated hub config: %s\n", output)
		return nil
	},
}
