package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/claudeck/claudeck/pkg/config"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/store"
)

var (
	userCreateUsername string
	userCreatePassword string
	userCreateRole     string
)

// minPasswordLen applies to CLI-created users. The bootstrap admin path
// enforces its own, stricter minimum.
const minPasswordLen = 8

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage dashboard users",
	Long: `Manage dashboard user accounts.

User commands operate directly on the configured database and do not
require the server to be running.`,
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Long: `Create a new dashboard user.

If the password is not provided via flag, you will be prompted to enter
it interactively.

Examples:
  # Create user with an interactive password prompt
  claudeck user create --username alice

  # Create an admin user
  claudeck user create --username ops --role admin`,
	RunE: runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUserList,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDelete,
}

func init() {
	userCreateCmd.Flags().StringVarP(&userCreateUsername, "username", "u", "", "Username (required)")
	userCreateCmd.Flags().StringVarP(&userCreatePassword, "password", "p", "", "Password (prompts if not provided)")
	userCreateCmd.Flags().StringVar(&userCreateRole, "role", "user", "Role (user|admin)")
	_ = userCreateCmd.MarkFlagRequired("username")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
}

// openStore loads configuration and opens the control plane store for
// offline administration.
func openStore() (*store.GORMStore, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	role := models.UserRole(userCreateRole)
	if role != models.RoleUser && role != models.RoleAdmin {
		return fmt.Errorf("invalid role %q (must be user or admin)", userCreateRole)
	}

	password := userCreatePassword
	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	hash, err := store.HashPassword(password)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user := &models.User{
		Username:     userCreateUsername,
		PasswordHash: hash,
		Role:         string(role),
	}
	if _, err := st.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %q created (role: %s)\n", user.Username, user.Role)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Username", "Role", "Created", "Last Login"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, u := range users {
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format(time.RFC3339)
		}
		table.Append([]string{u.Username, u.Role, u.CreatedAt.Format(time.RFC3339), lastLogin})
	}
	table.Render()
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	username := args[0]
	if err := st.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Printf("User %q deleted\n", username)
	return nil
}

// promptPassword asks for a password twice with masking and rejects
// mismatched entries.
func promptPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < minPasswordLen {
				return fmt.Errorf("password must be at least %d characters", minPasswordLen)
			}
			return nil
		},
	}
	password, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("password prompt aborted: %w", err)
	}

	confirm := promptui.Prompt{
		Label: "Confirm password",
		Mask:  '*',
	}
	confirmed, err := confirm.Run()
	if err != nil {
		return "", fmt.Errorf("password prompt aborted: %w", err)
	}
	if password != confirmed {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}
