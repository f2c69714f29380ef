// Command tokenctl mints and inspects the backend's RS256 access tokens.
// Key paths, issuer and expiry come from the same JWT_* variables the API
// server reads.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/go-paynotify/internal/config"
	jwtinfra "github.com/go-paynotify/internal/infrastructure/jwt"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Mint and verify paynotify access tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(mintCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadProvider() (*jwtinfra.Provider, error) {
	var cfg config.JWTConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read JWT config: %w", err)
	}
	return jwtinfra.NewProvider(cfg)
}

func mintCmd() *cobra.Command {
	var role, commerceID, deviceID string

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a token for an operator or a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case jwtinfra.RoleOperator:
			case jwtinfra.RoleDevice:
				if deviceID == "" {
					return errors.New("--device is required for device tokens")
				}
			default:
				return fmt.Errorf("unknown role %q (want %s or %s)", role, jwtinfra.RoleOperator, jwtinfra.RoleDevice)
			}

			p, err := loadProvider()
			if err != nil {
				return err
			}
			tok, err := p.Sign(deviceID, commerceID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", jwtinfra.RoleOperator, "token role: operator or device")
	cmd.Flags().StringVar(&commerceID, "commerce", "", "commerce the token is scoped to")
	cmd.Flags().StringVar(&deviceID, "device", "", "device UUID (device tokens only)")
	_ = cmd.MarkFlagRequired("commerce")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a token's signature and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProvider()
			if err != nil {
				return err
			}
			claims, err := p.Verify(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "role:     %s\n", claims.Role)
			fmt.Fprintf(out, "commerce: %s\n", claims.CommerceID)
			if claims.DeviceID != "" {
				fmt.Fprintf(out, "device:   %s\n", claims.DeviceID)
			}
			if claims.ExpiresAt != nil {
				fmt.Fprintf(out, "expires:  %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	var privPath, pubPath string
	var bits int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write a new RSA key pair in PEM form",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rsa.GenerateKey(rand.Reader, bits)
			if err != nil {
				return err
			}
			pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
			if err != nil {
				return err
			}
			if err := writePEM(privPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
				return err
			}
			if err := writePEM(pubPath, "PUBLIC KEY", pub, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&privPath, "private", "./private_key.pem", "private key output path")
	cmd.Flags().StringVar(&pubPath, "public", "./public_key.pem", "public key output path")
	cmd.Flags().IntVar(&bits, "bits", 2048, "key size")
	return cmd
}

func writePEM(path, typ string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
