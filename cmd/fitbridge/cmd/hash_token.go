package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fitbridge/fitbridge/internal/domain/auth"
)

var hashSHA256 bool

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate a hash of the bearer token for config",
	Long: `Generate a hash of the bearer token for the auth.token_hash config field.

By default the output is an Argon2id PHC string. Pass --sha256 for the
simpler "sha256:<hex>" format; it verifies faster but offers no resistance
to offline cracking of a leaked config.

Examples:
  fitbridge hash-token "my-secret-token"
  fitbridge hash-token --sha256 "my-secret-token"

Security note: the token will appear in shell history. Consider clearing
history after use or passing an environment variable:
  fitbridge hash-token "$FITBRIDGE_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if hashSHA256 {
			fmt.Printf("sha256:%s\n", auth.HashToken(token))
			return nil
		}
		hash, err := auth.HashTokenArgon2id(token)
		if err != nil {
			return fmt.Errorf("failed to hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	hashTokenCmd.Flags().BoolVar(&hashSHA256, "sha256", false, "emit sha256:<hex> instead of Argon2id")
	rootCmd.AddCommand(hashTokenCmd)
}
