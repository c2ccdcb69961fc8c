package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verkstad/toolmgmt/internal/auth"
)

func newUserCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCommand(opts))
	return cmd
}

// userCreateOptions holds the flags of "user create".
type userCreateOptions struct {
	username    string
	displayName string
	password    string
	role        string
}

func (o *userCreateOptions) validate() error {
	if o.username == "" || o.password == "" {
		return errors.New("--username and --password are required")
	}
	if !auth.IsValidUsername(o.username) {
		return auth.ErrInvalidUsername
	}
	if err := auth.ValidatePassword(o.password); err != nil {
		return err
	}
	if !auth.IsValidRole(auth.Role(o.role)) {
		return fmt.Errorf("invalid role %q: must be operator or admin", o.role)
	}
	return nil
}

func newUserCreateCommand(opts *globalOptions) *cobra.Command {
	uo := &userCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := uo.validate(); err != nil {
				return err
			}
			if uo.displayName == "" {
				uo.displayName = uo.username
			}

			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg, log, true)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			hash, err := auth.HashPassword(uo.password)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			user := &auth.User{
				Username:     uo.username,
				DisplayName:  uo.displayName,
				PasswordHash: hash,
				Role:         auth.Role(uo.role),
				IsActive:     true,
			}
			if err := auth.NewUserRepository(db.DB).Create(cmd.Context(), user); err != nil {
				return fmt.Errorf("creating user: %w", err)
			}

			log.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Username, user.ID)
			return err
		},
	}

	cmd.Flags().StringVar(&uo.username, "username", "", "login name (3-64 letters, digits, '.', '_' or '-')")
	cmd.Flags().StringVar(&uo.displayName, "display-name", "", "name shown in the UI (default the username)")
	cmd.Flags().StringVar(&uo.password, "password", "", "initial password")
	cmd.Flags().StringVar(&uo.role, "role", string(auth.RoleOperator), "operator or admin")
	return cmd
}
