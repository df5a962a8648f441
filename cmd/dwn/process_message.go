package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/handlers"
	"github.com/nodeledger/dwn-core/pkg/message"
)

var processMessageCmd = &cobra.Command{
	Use:   "process-message",
	Short: "Sign and process a single message against a node's data directory",
	Long: `process-message reads an unsigned message (descriptor plus any
recordId/contextId/encodedData fields) from a JSON file, signs it with
a freshly generated local key registered under --tenant (or under the
fixed DID did:key:cli-process-message if --tenant is omitted), calls
the in-process dispatcher, and
prints the reply.

This is a smoke-testing aid, not the DWN's wire transport: a message
authored by anyone other than the tenant itself can never reach this
command already signed by a resolvable key, since the CLI's DID
registry lives only for the duration of one invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		messagePath, _ := cmd.Flags().GetString("message")
		dataPath, _ := cmd.Flags().GetString("data")
		tenant, _ := cmd.Flags().GetString("tenant")

		if messagePath == "" {
			return fmt.Errorf("dwn: --message is required")
		}

		raw, err := os.ReadFile(messagePath)
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		var msg message.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("parse message: %w", err)
		}

		if tenant == "" {
			tenant = "did:key:cli-process-message"
		}

		n, err := openNode(dataDir)
		if err != nil {
			return fmt.Errorf("open node: %w", err)
		}
		defer n.Close()

		signer, err := didtest.NewSigner(n.Registry, tenant)
		if err != nil {
			return err
		}
		extra := message.SignaturePayload{RecordId: msg.RecordId}
		if msg.ContextId != nil {
			extra.ContextId = *msg.ContextId
		}
		if err := signer.AuthorizeMessage(&msg, extra); err != nil {
			return fmt.Errorf("sign message: %w", err)
		}

		var data io.Reader
		if dataPath != "" {
			f, err := os.Open(dataPath)
			if err != nil {
				return fmt.Errorf("open data: %w", err)
			}
			defer f.Close()
			data = f
		}

		reply := n.Dispatcher.ProcessMessage(context.Background(), tenant, msg, data)
		return printReply(reply)
	},
}

func init() {
	processMessageCmd.Flags().String("message", "", "Path to an unsigned message JSON file")
	processMessageCmd.Flags().String("data", "", "Path to the record's data file (for RecordsWrite)")
	processMessageCmd.Flags().String("tenant", "", "Tenant DID to process against (did:key:cli-process-message if omitted)")
}

// replyEntry is the JSON shape one reply entry prints as; Data is
// omitted since RecordsRead's stream isn't meaningfully representable
// on stdout alongside the rest of the reply.
type replyEntry struct {
	Descriptor  map[string]any `json:"descriptor"`
	RecordId    string         `json:"recordId,omitempty"`
	EncodedData *string        `json:"encodedData,omitempty"`
}

type replyJSON struct {
	Status       int          `json:"status"`
	Detail       string       `json:"detail,omitempty"`
	Entries      []replyEntry `json:"entries,omitempty"`
	Record       *replyEntry  `json:"record,omitempty"`
	Subscription string       `json:"subscriptionId,omitempty"`
	Cursor       string       `json:"cursor,omitempty"`
}

func printReply(reply handlers.Reply) error {
	out := replyJSON{Status: reply.Status.Code, Detail: reply.Status.Detail, Cursor: reply.Cursor}
	for _, e := range reply.Entries {
		out.Entries = append(out.Entries, toReplyEntry(e))
	}
	if reply.Record != nil {
		re := toReplyEntry(*reply.Record)
		out.Record = &re
	}
	if reply.Subscription != nil {
		out.Subscription = reply.Subscription.ID
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	fmt.Println(string(raw))
	return nil
}

func toReplyEntry(e handlers.Entry) replyEntry {
	return replyEntry{Descriptor: e.Message.Descriptor, RecordId: e.Message.RecordId, EncodedData: e.Message.EncodedData}
}
