package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const requestTimeoutNote = "the target device did not answer; is avenad running there?"

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manage mesh links from a device to a peer",
}

func init() {
	linkRegisterCmd.Flags().String("remote-url", "", "NATS URL of the peer to link to (required)")
	_ = linkRegisterCmd.MarkFlagRequired("remote-url")
	linkCmd.AddCommand(linkRegisterCmd)

	linkUnregisterCmd.Flags().String("remote-url", "", "NATS URL of the peer link to remove (required)")
	_ = linkUnregisterCmd.MarkFlagRequired("remote-url")
	linkCmd.AddCommand(linkUnregisterCmd)
}

var linkRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Ask a device to initiate a link handshake with a peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		remoteURL, _ := cmd.Flags().GetString("remote-url")

		c, err := connect(cmd)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer c.Close()

		resp, err := c.RegisterLink(remoteURL)
		if err != nil {
			return fmt.Errorf("link register: %w (%s)", err, requestTimeoutNote)
		}

		fmt.Printf("ok=%v: %s\n", resp.OK, resp.Message)
		return nil
	},
}

var linkUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove a device's link to a peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		remoteURL, _ := cmd.Flags().GetString("remote-url")

		c, err := connect(cmd)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer c.Close()

		resp, err := c.UnregisterLink(remoteURL)
		if err != nil {
			return fmt.Errorf("link unregister: %w (%s)", err, requestTimeoutNote)
		}

		fmt.Printf("ok=%v: %s\n", resp.OK, resp.Message)
		return nil
	},
}
