package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmerrifield20/mutualboard/internal/account"
	"github.com/jmerrifield20/mutualboard/internal/claims"
	"github.com/jmerrifield20/mutualboard/internal/merkle"
	"github.com/jmerrifield20/mutualboard/internal/notary"
	"github.com/jmerrifield20/mutualboard/internal/receipt"
	"github.com/spf13/cobra"
)

// ── account-hash ─────────────────────────────────────────────────────────────

var accountHashCmd = &cobra.Command{
	Use:   "account-hash <handle>",
	Short: "Print the account hash a handle binds to",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(account.Hash(args[0]))
	},
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 key for a development notary or the receipt signer",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		seed := hex.EncodeToString(priv.Seed())
		pubHex := hex.EncodeToString(pub)
		if jsonOutput {
			return printJSON(map[string]string{"seed": seed, "publicKey": pubHex})
		}
		fmt.Printf("Seed (keep secret): %s\n", seed)
		fmt.Printf("Public key:         %s\n", pubHex)
		return nil
	},
}

// ── notarize ─────────────────────────────────────────────────────────────────

var (
	notarizeSeed     string
	notarizeKeyID    string
	notarizeServer   string
	notarizeHashAlg  string
	notarizeReceived string
	notarizeSent     string
	notarizeHide     []string
)

var notarizeCmd = &cobra.Command{
	Use:   "notarize",
	Short: "Produce a development proof from a saved server response",
	Long: `notarize signs a saved HTTP response with a local notary key and prints
the hex presentation. Every occurrence of each --hide substring is left
unrevealed. The server only accepts the result if the key's public half is
listed in notary.trusted_keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := receipt.ParseSeed(notarizeSeed)
		if err != nil {
			return err
		}
		received, err := os.ReadFile(notarizeReceived)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		var sent []byte
		if notarizeSent != "" {
			if sent, err = os.ReadFile(notarizeSent); err != nil {
				return fmt.Errorf("read request: %w", err)
			}
		}

		var hidden []notary.Range
		for _, h := range notarizeHide {
			hidden = append(hidden, occurrences(string(received), h)...)
		}

		p, err := notary.NewNotary(notarizeKeyID, key).WithHashAlg(notarizeHashAlg).Notarize(
			notary.Session{ServerName: notarizeServer, Sent: sent, Received: received},
			notary.Reveal{
				Sent:     notary.Complement(len(sent)),
				Received: notary.Complement(len(received), hidden...),
			},
		)
		if err != nil {
			return err
		}
		raw, err := p.Encode()
		if err != nil {
			return err
		}
		fmt.Println(raw)
		return nil
	},
}

func occurrences(s, sub string) []notary.Range {
	var out []notary.Range
	if sub == "" {
		return out
	}
	for from := 0; ; {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return out
		}
		out = append(out, notary.Range{Start: from + i, End: from + i + len(sub)})
		from += i + len(sub)
	}
}

func init() {
	notarizeCmd.Flags().StringVar(&notarizeSeed, "seed", "", "hex Ed25519 notary seed (required)")
	notarizeCmd.Flags().StringVar(&notarizeKeyID, "key-id", "dev", "notary key id")
	notarizeCmd.Flags().StringVar(&notarizeServer, "server", "api.x.com", "server name recorded in the attestation")
	notarizeCmd.Flags().StringVar(&notarizeHashAlg, "hash", notary.HashSHA256, "commitment hash: sha256, blake2b-256 or keccak-256")
	notarizeCmd.Flags().StringVar(&notarizeReceived, "response", "", "file holding the received bytes (required)")
	notarizeCmd.Flags().StringVar(&notarizeSent, "request", "", "file holding the sent bytes")
	notarizeCmd.Flags().StringSliceVar(&notarizeHide, "hide", nil, "substring of the response to leave unrevealed (repeatable)")
	_ = notarizeCmd.MarkFlagRequired("seed")
	_ = notarizeCmd.MarkFlagRequired("response")
}

// ── inspect ──────────────────────────────────────────────────────────────────

var inspectTrusted []string

var inspectCmd = &cobra.Command{
	Use:   "inspect <proof-file|->",
	Short: "Verify a proof locally and print its masked transcript and claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := make(map[string]string, len(inspectTrusted))
		for _, kv := range inspectTrusted {
			id, pub, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--trusted must be id=hexkey, got %q", kv)
			}
			keys[id] = pub
		}
		trust, err := notary.ParseTrustRoot(keys)
		if err != nil {
			return err
		}
		raw, err := readProof(args[0])
		if err != nil {
			return err
		}

		t, err := notary.NewVerifier(trust).Verify(raw)
		if err != nil {
			return err
		}
		fmt.Printf("Server:   %s\n", t.ServerName)
		fmt.Printf("Time:     %s\n", time.Unix(t.Time, 0).UTC())
		fmt.Printf("Revealed: %v\n\n", t.AuthenticatedRanges())
		fmt.Println(t.Text())
		fmt.Println()

		c, err := claims.Extract(t)
		switch {
		case err == nil:
			fmt.Printf("Handle:       %s\n", c.ScreenName)
			fmt.Printf("Account hash: %s\n", account.Hash(c.ScreenName))
			fmt.Println("Relationship: mutual")
		case errors.Is(err, claims.ErrRelationshipNotMutual):
			handle, herr := claims.ExtractIdentity(t)
			if herr != nil {
				return herr
			}
			fmt.Printf("Handle:       %s\n", handle)
			fmt.Printf("Account hash: %s\n", account.Hash(handle))
			fmt.Println("Relationship: not mutual")
		default:
			return err
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringSliceVar(&inspectTrusted, "trusted", nil, "trusted notary key as id=hexkey (repeatable)")
}

// ── verify-inclusion ─────────────────────────────────────────────────────────

var (
	inclBody  string
	inclLeaf  string
	inclIdx   int
	inclTotal int
	inclProof string
	inclRoot  string
)

var verifyInclusionCmd = &cobra.Command{
	Use:   "verify-inclusion",
	Short: "Check a message inclusion proof offline",
	Long: `verify-inclusion checks that a message is leaf --index of a tree of
--total leaves with root --root. A stored message proof verifies against the
root recorded when it was appended, with --total set to index+1; the default
--total is index+1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var leaf merkle.Digest
		switch {
		case inclBody != "":
			leaf = merkle.HashContent([]byte(inclBody))
		case inclLeaf != "":
			d, err := merkle.DigestFromHex(inclLeaf)
			if err != nil {
				return err
			}
			leaf = d
		default:
			return errors.New("one of --body or --leaf is required")
		}
		root, err := merkle.DigestFromHex(inclRoot)
		if err != nil {
			return fmt.Errorf("root: %w", err)
		}
		proof, err := merkle.DecodeProofHex(inclProof)
		if err != nil {
			return fmt.Errorf("proof: %w", err)
		}
		total := inclTotal
		if total == 0 {
			total = inclIdx + 1
		}

		if !merkle.Verify(root, inclIdx, leaf, proof, total) {
			return fmt.Errorf("proof does NOT verify: leaf %s at index %d of %d", leaf.Hex(), inclIdx, total)
		}
		fmt.Printf("proof OK: leaf %s at index %d of %d\n", leaf.Hex(), inclIdx, total)
		return nil
	},
}

func init() {
	f := verifyInclusionCmd.Flags()
	f.StringVar(&inclBody, "body", "", "message body")
	f.StringVar(&inclLeaf, "leaf", "", "hex leaf digest (instead of --body)")
	f.IntVar(&inclIdx, "index", 0, "leaf index")
	f.IntVar(&inclTotal, "total", 0, "tree size the proof was issued for (default index+1)")
	f.StringVar(&inclProof, "proof", "", "hex inclusion proof")
	f.StringVar(&inclRoot, "root", "", "hex Merkle root (required)")
	_ = verifyInclusionCmd.MarkFlagRequired("root")
}

// ── receipt ──────────────────────────────────────────────────────────────────

var (
	receiptPubKey string
	receiptIssuer string
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Work with signed tree-head receipts",
}

var receiptVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a receipt against the board's public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := receipt.ParseVerifier(receiptPubKey, receiptIssuer)
		if err != nil {
			return err
		}
		c, err := v.Verify(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(c)
		}
		fmt.Printf("Account Hash: %s\n", c.AccountHash)
		fmt.Printf("Merkle Root:  %s\n", c.Root)
		fmt.Printf("Tree Size:    %d\n", c.Size)
		if c.IssuedAt != nil {
			fmt.Printf("Issued At:    %s\n", c.IssuedAt.Time.UTC())
		}
		return nil
	},
}

func init() {
	receiptVerifyCmd.Flags().StringVar(&receiptPubKey, "pubkey", "", "hex Ed25519 public key of the board (required)")
	receiptVerifyCmd.Flags().StringVar(&receiptIssuer, "issuer", receipt.Issuer, "expected issuer")
	_ = receiptVerifyCmd.MarkFlagRequired("pubkey")

	receiptCmd.AddCommand(receiptVerifyCmd)
}
