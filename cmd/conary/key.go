package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/internal/federation"
	"github.com/conarylabs/conary/internal/ingest/ccs"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage manifest signing keys and trust policy",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate OUTPUT_PATH",
	Short: "Generate a new Ed25519 signing key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, priv, err := federation.GenerateSigningKey()
		if err != nil {
			return err
		}
		if err := federation.SaveSigningKey(args[0], priv); err != nil {
			return err
		}
		fmt.Printf("Wrote signing key to %s\n", args[0])
		return nil
	},
}

var keySignCmd = &cobra.Command{
	Use:   "sign CONTAINER KEY_PATH KEY_ID",
	Short: "Sign a .ccs container's manifest with a private key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		containerPath, keyPath, keyID := args[0], args[1], args[2]

		container, err := ccs.ReadContainer(containerPath)
		if err != nil {
			return err
		}
		priv, err := federation.LoadSigningKey(keyPath)
		if err != nil {
			return err
		}
		sig, err := federation.Sign(container.Manifest, priv, keyID, time.Now())
		if err != nil {
			return err
		}
		container.Signature = sig
		if err := ccs.WriteContainer(containerPath, container); err != nil {
			return err
		}
		fmt.Printf("Signed %s with key %s\n", containerPath, keyID)
		return nil
	},
}

var keyVerifyCmd = &cobra.Command{
	Use:   "verify CONTAINER",
	Short: "Verify a .ccs container's manifest signature against a trust policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trustPolicyPath, _ := cmd.Flags().GetString("trust-policy")

		container, err := ccs.ReadContainer(args[0])
		if err != nil {
			return err
		}

		policy := federation.Permissive()
		if trustPolicyPath != "" {
			policy, err = federation.LoadTrustPolicy(trustPolicyPath)
			if err != nil {
				return err
			}
		}

		if err := federation.VerifyContainer(container, policy); err != nil {
			return err
		}
		fmt.Printf("%s: signature valid\n", args[0])
		return nil
	},
}

func init() {
	keyVerifyCmd.Flags().String("trust-policy", "", "Path to a trust policy file (if omitted, unsigned manifests are accepted)")
	keyCmd.AddCommand(keyGenerateCmd, keySignCmd, keyVerifyCmd)
}
