package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestUserRepository_CRUD(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	anna := &User{Username: "anna", DisplayName: "Anna", PasswordHash: "h", Role: RoleOperator, IsActive: true}
	if err := repo.Create(ctx, anna); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if anna.ID == "" || anna.CreatedAt.IsZero() {
		t.Fatalf("Create() did not fill ID and timestamps: %+v", anna)
	}
	if err := repo.Create(ctx, &User{Username: "anna", DisplayName: "x", PasswordHash: "h", Role: RoleAdmin}); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("duplicate Create() error = %v, want ErrUsernameExists", err)
	}

	got, err := repo.GetByUsername(ctx, "anna")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if diff := cmp.Diff(anna, got); diff != "" {
		t.Errorf("GetByUsername() mismatch (-want +got):\n%s", diff)
	}

	anna.DisplayName = "Anna K."
	anna.Role = RoleAdmin
	anna.IsActive = false
	if err := repo.Update(ctx, anna); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err = repo.GetByID(ctx, anna.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.DisplayName != "Anna K." || got.Role != RoleAdmin || got.IsActive {
		t.Errorf("after Update() = %+v", got)
	}

	if err := repo.UpdatePassword(ctx, anna.ID, "h2"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	if got, _ := repo.GetByID(ctx, anna.ID); got.PasswordHash != "h2" { //nolint:errcheck // checked above
		t.Errorf("PasswordHash = %q, want h2", got.PasswordHash)
	}

	seedTestUser(t, db, "bert", RoleOperator)
	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	if diff := cmp.Diff([]string{"anna", "bert"}, names); diff != "" {
		t.Errorf("List() order (-want +got):\n%s", diff)
	}
	if n, _ := repo.Count(ctx); n != 2 { //nolint:errcheck // Count cannot fail here
		t.Errorf("Count() = %d, want 2", n)
	}

	if err := repo.Delete(ctx, anna.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for name, err := range map[string]error{
		"GetByID":        func() error { _, err := repo.GetByID(ctx, anna.ID); return err }(),
		"Update":         repo.Update(ctx, anna),
		"UpdatePassword": repo.UpdatePassword(ctx, anna.ID, "h"),
		"Delete":         repo.Delete(ctx, anna.ID),
	} {
		if !errors.Is(err, ErrUserNotFound) {
			t.Errorf("%s() after delete error = %v, want ErrUserNotFound", name, err)
		}
	}
}

func TestMachineAccessRepository(t *testing.T) {
	db := testDB(t)
	admin := seedTestUser(t, db, "admin", RoleAdmin)
	op := seedTestUser(t, db, "operator", RoleOperator)
	repo := NewMachineAccessRepository(db)
	ctx := context.Background()

	ids, err := repo.MachineIDs(ctx, op.ID)
	if err != nil || len(ids) != 0 {
		t.Fatalf("new operator MachineIDs() = %v, %v; want none", ids, err)
	}

	if err := repo.SetMachineAccess(ctx, op.ID, []string{"mch-2", "mch-1", "mch-2"}, admin.ID); err != nil {
		t.Fatalf("SetMachineAccess() error = %v", err)
	}
	grants, err := repo.GetMachineAccess(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetMachineAccess() error = %v", err)
	}
	want := []MachineGrant{
		{UserID: op.ID, MachineID: "mch-1", GrantedBy: admin.ID},
		{UserID: op.ID, MachineID: "mch-2", GrantedBy: admin.ID},
	}
	if diff := cmp.Diff(want, grants, cmpopts.IgnoreFields(MachineGrant{}, "CreatedAt")); diff != "" {
		t.Errorf("GetMachineAccess() mismatch (-want +got):\n%s", diff)
	}

	// Unknown machine leaves the previous assignment untouched.
	err = repo.SetMachineAccess(ctx, op.ID, []string{"mch-1", "mch-9"}, admin.ID)
	if !errors.Is(err, ErrUnknownMachine) {
		t.Fatalf("SetMachineAccess(unknown) error = %v, want ErrUnknownMachine", err)
	}
	if ids, _ := repo.MachineIDs(ctx, op.ID); len(ids) != 2 { //nolint:errcheck // checked above
		t.Errorf("assignment changed after failed replace: %v", ids)
	}

	if err := repo.SetMachineAccess(ctx, "usr-missing", []string{"mch-1"}, admin.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetMachineAccess(unknown user) error = %v, want ErrUserNotFound", err)
	}

	if err := repo.SetMachineAccess(ctx, op.ID, nil, admin.ID); err != nil {
		t.Fatalf("SetMachineAccess(nil) error = %v", err)
	}
	if ids, _ := repo.MachineIDs(ctx, op.ID); len(ids) != 0 { //nolint:errcheck // checked above
		t.Errorf("MachineIDs() after clear = %v", ids)
	}

	// Deleting the machine removes it from assignments.
	if err := repo.SetMachineAccess(ctx, op.ID, []string{"mch-1", "mch-2"}, ""); err != nil {
		t.Fatalf("SetMachineAccess() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM machines WHERE id = 'mch-1'"); err != nil {
		t.Fatalf("deleting machine: %v", err)
	}
	ids, _ = repo.MachineIDs(ctx, op.ID) //nolint:errcheck // checked above
	if diff := cmp.Diff([]string{"mch-2"}, ids); diff != "" {
		t.Errorf("MachineIDs() after machine delete (-want +got):\n%s", diff)
	}
}

func TestAuthenticate(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	seedTestUser(t, db, "anna", RoleOperator)
	inactive := seedTestUser(t, db, "bert", RoleOperator)
	inactive.IsActive = false
	if err := repo.Update(ctx, inactive); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	user, err := Authenticate(ctx, repo, "anna", "test-password")
	if err != nil || user.Username != "anna" {
		t.Fatalf("Authenticate() = %v, %v", user, err)
	}

	tests := []struct {
		name, username, password string
		want                     error
	}{
		{"wrong password", "anna", "nope", ErrInvalidCredentials},
		{"unknown user", "carl", "test-password", ErrInvalidCredentials},
		{"inactive", "bert", "test-password", ErrUserInactive},
		{"inactive wrong password", "bert", "nope", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Authenticate(ctx, repo, tt.username, tt.password); !errors.Is(err, tt.want) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
