package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/atrium/internal/auth/app"
	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
)

type createUserOptions struct {
	email    string
	name     string
	role     string
	password string
}

// NewCreateUserCmd creates the create-user subcommand. It is how the first
// admin gets into a fresh database; self registration only makes viewers.
func NewCreateUserCmd() *cobra.Command {
	opts := &createUserOptions{}

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account with any role",
		Long: `Create an account directly in the database. When --password is omitted a
random password is generated and printed once.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateUser(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.role, "role", string(domain.RoleAdmin), "viewer, editor or admin")
	cmd.Flags().StringVar(&opts.password, "password", "", "initial password (generated when empty)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runCreateUser(cmd *cobra.Command, opts *createUserOptions) error {
	role, err := domain.ParseRole(opts.role)
	if err != nil {
		return oops.Code("INVALID_ROLE").With("role", opts.role).Wrap(err)
	}

	password := opts.password
	generated := password == ""
	if generated {
		if password, err = cryptox.GeneratePassword(); err != nil {
			return oops.Code("PASSWORD_GENERATION_FAILED").Wrap(err)
		}
	}

	cfg := app.LoadConfig()
	db, err := app.OpenDatabase(cfg, app.NewLogger(cfg))
	if err != nil {
		return oops.Code("DB_OPEN_FAILED").Wrap(err)
	}
	defer db.Close()

	hasher, err := app.NewHasher(cfg)
	if err != nil {
		return oops.Code("PEPPER_LOAD_FAILED").Wrap(err)
	}

	creds := &service.CredentialService{Store: db, Hasher: hasher, StoreTimeout: 5 * time.Second}
	user, err := creds.CreateUser(context.Background(), opts.email, password, role, opts.name)
	if err != nil {
		return oops.Code("CREATE_USER_FAILED").With("email", opts.email).Wrap(err)
	}

	cmd.Printf("Created %s %s (%s)\n", user.Role, user.Email, user.ID)
	if generated {
		cmd.Printf("Password: %s\n", password)
		cmd.Println("Store it now; it will not be shown again.")
	}
	return nil
}
