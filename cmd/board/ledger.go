package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/mutualboard/pkg/client"
	"github.com/spf13/cobra"
)

// ── tree ─────────────────────────────────────────────────────────────────────

var (
	treeAccountID string
	treeProofFile string
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Create and inspect account ledgers",
}

var treeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a ledger from an ownership proof",
	RunE: func(cmd *cobra.Command, args []string) error {
		proof, err := readProof(treeProofFile)
		if err != nil {
			return err
		}
		c, err := client.New(boardURL)
		if err != nil {
			return err
		}
		tree, err := c.CreateTree(cmd.Context(), treeAccountID, proof)
		if err != nil {
			return err
		}
		return printTree(tree)
	},
}

var treeGetCmd = &cobra.Command{
	Use:   "get <account-hash>",
	Short: "Show a ledger header",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(boardURL)
		if err != nil {
			return err
		}
		tree, err := c.GetTree(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printTree(tree)
	},
}

var treeVerifyCmd = &cobra.Command{
	Use:   "verify <account-hash>",
	Short: "Ask the server to audit a ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(boardURL)
		if err != nil {
			return err
		}
		v, err := c.VerifyTree(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(v)
		}
		if !v.Valid {
			return fmt.Errorf("ledger integrity check failed: %s", v.Error)
		}
		fmt.Println("ledger OK")
		return nil
	},
}

func init() {
	treeCreateCmd.Flags().StringVar(&treeAccountID, "account-id", "", "platform account id (required)")
	treeCreateCmd.Flags().StringVar(&treeProofFile, "proof", "", "file holding the hex ownership proof, or - for stdin (required)")
	_ = treeCreateCmd.MarkFlagRequired("account-id")
	_ = treeCreateCmd.MarkFlagRequired("proof")

	treeCmd.AddCommand(treeCreateCmd, treeGetCmd, treeVerifyCmd)
}

func printTree(t *client.Tree) error {
	if jsonOutput {
		return printJSON(t)
	}
	fmt.Printf("Account Hash: %s\n", t.AccountHash)
	fmt.Printf("Account ID:   %s\n", t.AccountID)
	fmt.Printf("Merkle Root:  %s\n", t.MerkleRoot)
	fmt.Printf("Messages:     %d\n", t.LeafCount)
	if t.ProofFileID != "" {
		fmt.Printf("Proof File:   %s\n", t.ProofFileID)
	}
	return nil
}

// ── messages ─────────────────────────────────────────────────────────────────

var (
	postBody      string
	postNickname  string
	postOrnament  int
	postProofFile string
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Work with ledger messages",
}

var messagesListCmd = &cobra.Command{
	Use:   "list <account-hash>",
	Short: "List the messages of a ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(boardURL)
		if err != nil {
			return err
		}
		msgs, err := c.ListMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("no messages")
			return nil
		}
		fmt.Printf("Merkle Root: %s\n\n", msgs[0].MerkleRoot)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tHASH\tORNAMENT\tNICKNAME")
		for _, m := range msgs {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", m.MerkleIdx, m.Hash, m.OrnamentID, m.Nickname)
		}
		return w.Flush()
	},
}

var revealProofFile string

var messagesRevealCmd = &cobra.Command{
	Use:   "reveal <account-hash>",
	Short: "Fetch the friendship proofs behind each message, as the ledger owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proof, err := readProof(revealProofFile)
		if err != nil {
			return err
		}
		c, err := client.New(boardURL)
		if err != nil {
			return err
		}
		msgs, err := c.RevealMessages(cmd.Context(), args[0], proof)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(msgs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tNICKNAME\tPROOF BYTES")
		for _, m := range msgs {
			n := 0
			if m.FriendshipProof != nil {
				n = len(m.FriendshipProof.Data) / 2
			}
			fmt.Fprintf(w, "%d\t%s\t%d\n", m.MerkleIdx, m.Nickname, n)
		}
		return w.Flush()
	},
}

var messagesPostCmd = &cobra.Command{
	Use:   "post <account-hash>",
	Short: "Post a message with a friendship proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proof, err := readProof(postProofFile)
		if err != nil {
			return err
		}
		c, err := client.New(boardURL)
		if err != nil {
			return err
		}
		msg, err := c.AppendMessage(cmd.Context(), args[0], client.AppendMessageRequest{
			OrnamentID:      postOrnament,
			Nickname:        postNickname,
			Body:            postBody,
			FriendshipProof: proof,
		})
		if errors.Is(err, client.ErrConflict) {
			return fmt.Errorf("%w (the ledger changed while posting; retry)", err)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(msg)
		}
		fmt.Printf("Index:        %d\n", msg.MerkleIdx)
		fmt.Printf("Hash:         %s\n", msg.Hash)
		fmt.Printf("Merkle Root:  %s\n", msg.MerkleRoot)
		fmt.Printf("Merkle Proof: %s\n", msg.MerkleProof)
		if msg.Receipt != "" {
			fmt.Printf("Receipt:      %s\n", msg.Receipt)
		}
		return nil
	},
}

func init() {
	messagesPostCmd.Flags().StringVar(&postBody, "body", "", "message body (required)")
	messagesPostCmd.Flags().StringVar(&postNickname, "nickname", "", "display nickname")
	messagesPostCmd.Flags().IntVar(&postOrnament, "ornament", 0, "ornament id")
	messagesPostCmd.Flags().StringVar(&postProofFile, "proof", "", "file holding the hex friendship proof, or - for stdin (required)")
	_ = messagesPostCmd.MarkFlagRequired("body")
	_ = messagesPostCmd.MarkFlagRequired("proof")

	messagesRevealCmd.Flags().StringVar(&revealProofFile, "proof", "", "file holding the hex ownership proof, or - for stdin (required)")
	_ = messagesRevealCmd.MarkFlagRequired("proof")

	messagesCmd.AddCommand(messagesListCmd, messagesPostCmd, messagesRevealCmd)
}
