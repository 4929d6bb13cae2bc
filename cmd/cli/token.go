package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cryptoadapter "github.com/turtacn/custody/internal/adapter/crypto"
	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

func newTokenCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify RS256 JWTs signed by custodied keys",
	}
	cmd.AddCommand(newTokenIssueCmd(o), newTokenVerifyCmd(o), newTokenJWKSCmd(o))
	return cmd
}

func newTokenIssueCmd(o *rootOptions) *cobra.Command {
	var (
		privateTag, kid, issuer, subject string
		audience, extra                  []string
		ttl                              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := o.runtime
			return rt.trace(cmd.Context(), "token.issue", func(ctx context.Context) error {
				priv, err := rt.custody.Resolve(ctx, constants.KeyKindPrivate, tagOf(privateTag))
				if err != nil {
					return err
				}
				now := time.Now()
				claims := jwt.MapClaims{
					"jti": uuid.NewString(),
					"iat": now.Unix(),
					"nbf": now.Unix(),
					"exp": now.Add(ttl).Unix(),
				}
				if issuer != "" {
					claims["iss"] = issuer
				}
				if subject != "" {
					claims["sub"] = subject
				}
				if len(audience) > 0 {
					claims["aud"] = audience
				}
				for _, kv := range extra {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return fmt.Errorf("claim %q is not key=value", kv)
					}
					claims[k] = v
				}
				if kid == "" {
					kid = privateTag
				}
				token, err := rt.tokens.Issue(ctx, kid, claims, priv)
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&privateTag, "private-tag", "", "tag of the signing private key")
	cmd.Flags().StringVar(&kid, "kid", "", "key id placed in the token header, defaults to the private tag")
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss claim")
	cmd.Flags().StringVar(&subject, "subject", "", "sub claim")
	cmd.Flags().StringSliceVar(&audience, "audience", nil, "aud claim")
	cmd.Flags().StringArrayVar(&extra, "claim", nil, "extra string claim as key=value, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("private-tag")
	return cmd
}

func newTokenVerifyCmd(o *rootOptions) *cobra.Command {
	var publicTag, token, issuer, audience string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a token and print its claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := o.runtime
			return rt.trace(cmd.Context(), "token.verify", func(ctx context.Context) error {
				pub, err := rt.custody.Resolve(ctx, constants.KeyKindPublic, tagOf(publicTag))
				if err != nil {
					return err
				}
				var opts []jwt.ParserOption
				if issuer != "" {
					opts = append(opts, jwt.WithIssuer(issuer))
				}
				if audience != "" {
					opts = append(opts, jwt.WithAudience(audience))
				}
				claims, err := rt.tokens.Verify(ctx, strings.TrimSpace(token), pub, opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd, claims)
			})
		},
	}
	cmd.Flags().StringVar(&publicTag, "public-tag", "", "tag of the verifying public key")
	cmd.Flags().StringVar(&token, "token", "", "compact JWT")
	cmd.Flags().StringVar(&issuer, "issuer", "", "required iss claim")
	cmd.Flags().StringVar(&audience, "audience", "", "required aud claim")
	_ = cmd.MarkFlagRequired("public-tag")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newTokenJWKSCmd(o *rootOptions) *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Print a JSON Web Key Set for stored public keys",
		Example: `  custody token jwks --key app-2026=app.pub --key app.old.pub`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := o.runtime
			return rt.trace(cmd.Context(), "token.jwks", func(ctx context.Context) error {
				pubs := make(map[string]*models.KeyHandle, len(keys))
				for _, entry := range keys {
					kid, tag, ok := strings.Cut(entry, "=")
					if !ok {
						tag = kid
					}
					pub, err := rt.custody.Resolve(ctx, constants.KeyKindPublic, tagOf(tag))
					if err != nil {
						return err
					}
					pubs[kid] = pub
				}
				set, err := cryptoadapter.JWKS(pubs)
				if err != nil {
					return err
				}
				return writeJSON(cmd, set)
			})
		},
	}
	cmd.Flags().StringArrayVar(&keys, "key", nil, "public key as kid=tag or tag, repeatable")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
