package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sakashimaa/media-store/pkg/utils"
	"github.com/sakashimaa/media-store/services/storefront/internal/entitlement"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Manage storefront download-link signing keys",
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a signing key entry for TOKEN_KEYS",
	Long: `Generate a random signing key and print it in the form expected by
TOKEN_KEYS. Append the entry to the existing list and point
TOKEN_ACTIVE_KEY at the new id to rotate.`,
	RunE: runGenerate,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Verify a download token against TOKEN_KEYS and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var (
	keyID   string
	keySize int
)

func init() {
	generateCmd.Flags().StringVar(&keyID, "id", "", "key id (defaults to k<unix time>)")
	generateCmd.Flags().IntVar(&keySize, "bytes", entitlement.MinKeySize, "key size in bytes")

	rootCmd.AddCommand(generateCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	id := keyID
	if id == "" {
		id = fmt.Sprintf("k%d", time.Now().Unix())
	}

	entry, err := generateEntry(rand.Reader, id, keySize)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "TOKEN_KEYS=%s\n", entry)
	fmt.Fprintf(cmd.OutOrStdout(), "TOKEN_ACTIVE_KEY=%s\n", id)

	return nil
}

func generateEntry(random io.Reader, id string, size int) (string, error) {
	if strings.ContainsAny(id, ":, ") || id == "" {
		return "", fmt.Errorf("invalid key id %q", id)
	}
	if size < entitlement.MinKeySize {
		return "", fmt.Errorf("key size must be at least %d bytes", entitlement.MinKeySize)
	}

	key := make([]byte, size)
	if _, err := io.ReadFull(random, key); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}

	return id + ":" + hex.EncodeToString(key), nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	keys, err := parseKeys(os.Getenv("TOKEN_KEYS"))
	if err != nil {
		return err
	}

	keyring, err := entitlement.KeyringFromHex(keys, utils.ParseWithFallback("TOKEN_ACTIVE_KEY", "v1"))
	if err != nil {
		return err
	}

	claims, err := entitlement.NewService(keyring, 0).Verify(args[0])
	if err != nil {
		return fmt.Errorf("token rejected (%s): %w", entitlement.Reason(err), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "key:      %s\n", claims.KeyID)
	fmt.Fprintf(out, "order:    %s\n", claims.RemoteOrderID)
	fmt.Fprintf(out, "product:  %s\n", claims.ProductID)
	fmt.Fprintf(out, "buyer:    %s\n", claims.BuyerContact)
	fmt.Fprintf(out, "issued:   %s\n", claims.IssuedTime().Format(time.RFC3339))
	fmt.Fprintf(out, "expires:  %s\n", claims.ExpiresTime().Format(time.RFC3339))

	return nil
}

// parseKeys reads the id:hex,id:hex list used by TOKEN_KEYS.
func parseKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, value, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("malformed TOKEN_KEYS entry %q", entry)
		}
		keys[id] = value
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("TOKEN_KEYS is empty")
	}

	return keys, nil
}
