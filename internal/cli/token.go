package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/config"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	UserID   string
	TenantID string
	Role     string
	TTL      time.Duration
}

// NewTokenCommand creates the token command, which mints a bearer token
// signed with AUTH_JWT_SECRET.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&opts.Role, "role", string(auth.RoleViewer), "role: admin, editor or viewer")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default: $AUTH_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	var sec config.SecurityConfig
	if err := config.LoadSection(&sec); err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = sec.TokenTTL
	}

	token, err := auth.New(sec.JWTSecret, sec.JWTIssuer).Mint(auth.User{
		ID:       opts.UserID,
		TenantID: opts.TenantID,
		Role:     auth.Role(opts.Role),
	}, ttl)
	if err != nil {
		return err
	}

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	if out.JSON() {
		return out.WriteJSON(map[string]any{
			"token":      token,
			"expires_at": time.Now().Add(ttl).UTC(),
		})
	}
	out.Printf("%s", token)
	return nil
}
