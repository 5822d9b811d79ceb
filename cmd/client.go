package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/client"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/config"
)

var (
	// clientFlags receives the connection flags; see loadClientConfig.
	clientFlags config.Client

	// create/get fields
	newEmail    string
	newDOB      string
	newPassword string
	newMetadata string
	userID      string
)

// Build DialConfig from the environment and CLI flags
func getDialConfig(fs *pflag.FlagSet) (client.DialConfig, error) {
	cfg, err := loadClientConfig(fs, &clientFlags)
	if err != nil {
		return client.DialConfig{}, err
	}
	return client.DialConfig{
		Address:    cfg.Addr,
		Insecure:   cfg.Insecure,
		RootCA:     cfg.CAFile,
		ClientCert: cfg.CertFile,
		ClientKey:  cfg.KeyFile,
		APIKey:     cfg.APIKey,
		AuthHeader: cfg.AuthHeader,
	}, nil
}

// Wrapper to build a high-level client
func getClient(cmd *cobra.Command) (*client.GRPCClient, error) {
	dc, err := getDialConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return client.NewClient(dc)
}

func bindClientFlags(fs *pflag.FlagSet, f *config.Client) {
	fs.StringVarP(&f.Addr, "addr", "a", "", "Server address (env USER_SERVICE_ADDR, default 127.0.0.1:9090)")
	fs.StringVarP(&f.APIKey, "api-key", "k", "", "API key sent with every call (env USER_SERVICE_API_KEY)")
	fs.BoolVar(&f.AuthHeader, "auth-header", false, `Send the key as "authorization: apikey <key>" (env USER_SERVICE_AUTH_HEADER)`)
	fs.BoolVar(&f.Insecure, "insecure", false, "Use insecure gRPC, no TLS (env USER_SERVICE_INSECURE)")
	fs.StringVar(&f.CAFile, "tls-ca", "", "Path to root CA certificate (env USER_SERVICE_TLS_CA)")
	fs.StringVar(&f.CertFile, "tls-cert", "", "Path to client certificate for mTLS (env USER_SERVICE_TLS_CERT)")
	fs.StringVar(&f.KeyFile, "tls-key", "", "Path to client private key for mTLS (env USER_SERVICE_TLS_KEY)")
}

func loadClientConfig(fs *pflag.FlagSet, f *config.Client) (*config.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	override(fs, "addr", &cfg.Addr, f.Addr)
	override(fs, "api-key", &cfg.APIKey, f.APIKey)
	override(fs, "auth-header", &cfg.AuthHeader, f.AuthHeader)
	override(fs, "insecure", &cfg.Insecure, f.Insecure)
	override(fs, "tls-ca", &cfg.CAFile, f.CAFile)
	override(fs, "tls-cert", &cfg.CertFile, f.CertFile)
	override(fs, "tls-key", &cfg.KeyFile, f.KeyFile)
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Root client command
var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Interact with the gRPC server",
	Long:  "Commands for listing, creating, and retrieving users via the gRPC client.",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.ListUsers(cmd.Context(), func(u *client.User) error {
			return printJSON(u)
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if newEmail == "" || newDOB == "" || newPassword == "" {
			return errors.New("--email, --dob and --password must be specified")
		}
		var meta map[string]any
		if newMetadata != "" {
			if err := json.Unmarshal([]byte(newMetadata), &meta); err != nil {
				return fmt.Errorf("--metadata must be a JSON object: %w", err)
			}
		}

		c, err := getClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		user, err := c.CreateUser(cmd.Context(), client.NewUser{
			Email:       newEmail,
			DateOfBirth: newDOB,
			Password:    newPassword,
			Metadata:    meta,
		})
		if err != nil {
			return err
		}
		return printJSON(user)
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a user by ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return errors.New("--id must be specified")
		}
		c, err := getClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		user, err := c.GetUser(cmd.Context(), userID)
		if err != nil {
			return err
		}
		if user == nil {
			fmt.Println("User not found")
			return nil
		}
		return printJSON(user)
	},
}

func init() {
	bindClientFlags(clientCmd.PersistentFlags(), &clientFlags)

	createCmd.Flags().StringVarP(&newEmail, "email", "e", "", "Email of the user")

	createCmd.Flags().StringVarP(&newDOB, "dob", "d", "", "Date of birth (ISO-8601)")

	createCmd.Flags().StringVarP(&newPassword, "password", "p", "", "Password of the user")

	createCmd.Flags().StringVarP(&newMetadata, "metadata", "m", "", "Metadata as a JSON object")

	getCmd.Flags().StringVarP(&userID, "id", "i", "", "ID of the user to retrieve")

	clientCmd.AddCommand(listCmd, createCmd, getCmd)
	rootCmd.AddCommand(clientCmd)
}
