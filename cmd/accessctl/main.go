// Command accessctl is a small, narrated walkthrough of pkg/engine
// against a real SQLite-backed document: it opens a scratch database,
// loads a rule set with a row rule granting read on rows the session's
// user owns and a column rule hiding a sensitive column from everyone
// but owners, then exercises the engine's filtering surface from three
// different sessions so the effect of each rule is visible on stdout.
// The built-in defaults already grant owners, editors and viewers read
// access, so all three sessions see every row; only the notes column is
// withheld from the editor and viewer sessions.
//
// It exists for manual smoke-testing; it is not a library and carries
// no tests of its own, since every behavior it exercises is already
// covered by the pkg/engine test suite.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/engine"
	"github.com/wemcdonald/accessctl/pkg/lattice"
	"github.com/wemcdonald/accessctl/pkg/ruleformula"
	"github.com/wemcdonald/accessctl/pkg/session"
	"github.com/wemcdonald/accessctl/pkg/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	tmpFile, err := os.CreateTemp("", "accessctl_demo_*.db")
	if err != nil {
		return fmt.Errorf("creating scratch database: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	db, err := store.Open(tmpFile.Name())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(ctx, `
		CREATE TABLE tasks (
			id    TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT NOT NULL,
			notes TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating tasks table: %w", err)
	}

	seed := [][4]string{
		{"1", "alice", "Renew lease", "landlord wants a 10% bump"},
		{"2", "bob", "Ship release notes", "hold until legal signs off"},
		{"3", "alice", "Book travel", "conference in October"},
	}
	for _, row := range seed {
		if _, err := db.Exec(ctx, `INSERT INTO tasks (id, owner, title, notes) VALUES (?, ?, ?, ?)`,
			row[0], row[1], row[2], row[3]); err != nil {
			return fmt.Errorf("seeding tasks: %w", err)
		}
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	registry := session.NewRegistry()
	eng := engine.New(engine.Config{
		DocData:       docDataOver(db),
		Store:         db,
		SessionAccess: registry.Access,
		SessionUser:   registry.User,
		Logger:        logger,
	})

	ownerMatchesSession, err := ruleformula.Compile("rec.owner = user.Email")
	if err != nil {
		return fmt.Errorf("compiling row rule: %w", err)
	}

	ruleSets := []docmodel.RuleSet{
		{
			// Grants read on rows the session's user owns. Sessions
			// with a built-in role still read every row through the
			// owners/editors/viewers defaults applied in
			// pkg/rules.builtinDocDefaultRules, so this rule hides no
			// row from them.
			Scope: docmodel.Scope{TableID: "tasks"},
			Body: []docmodel.Rule{
				{
					Source:    "rec.owner = user.Email",
					Predicate: ownerMatchesSession,
					Delta:     lattice.Empty().With(lattice.BitRead, lattice.Allow),
				},
			},
		},
		{
			// notes is visible only to owners, regardless of row.
			Scope: docmodel.Scope{TableID: "tasks", ColumnIDs: []string{"notes"}},
			Body: []docmodel.Rule{
				{
					Source: "user.Access != owners",
					Predicate: func(in docmodel.MatchInput) (bool, error) {
						return in.User.Access != docmodel.RoleOwners, nil
					},
					Delta: lattice.Empty().With(lattice.BitRead, lattice.Deny),
				},
			},
		},
	}

	if err := eng.Update(ctx, ruleSets, nil); err != nil {
		return fmt.Errorf("loading rule sets: %w", err)
	}

	registry.Connect("owner-session", docmodel.RoleOwners, &docmodel.UserIdentity{Email: "alice"})
	registry.Connect("editor-session", docmodel.RoleEditors, &docmodel.UserIdentity{Email: "carol"})
	registry.Connect("viewer-session", docmodel.RoleViewers, &docmodel.UserIdentity{Email: "bob"})

	for _, sess := range []docmodel.SessionHandle{"owner-session", "editor-session", "viewer-session"} {
		if err := showSession(ctx, eng, db, sess); err != nil {
			return err
		}
	}

	fmt.Println("\nbob updates his own task's title:")
	forward := []docmodel.DocAction{
		{Kind: docmodel.UpdateRecord, TableID: "tasks", RowIDs: []string{"2"}, Fields: map[string][]any{
			"title": {"Ship release notes (v2)"},
		}},
	}
	if _, err := db.Exec(ctx, `UPDATE tasks SET title = ? WHERE id = ?`, "Ship release notes (v2)", "2"); err != nil {
		return fmt.Errorf("applying update: %w", err)
	}
	eng.BeforeBroadcast(forward, nil)
	for _, sess := range []docmodel.SessionHandle{"owner-session", "viewer-session"} {
		out, err := eng.FilterOutgoingDocActions(ctx, sess, forward)
		if err != nil {
			return fmt.Errorf("filtering broadcast for %s: %w", sess, err)
		}
		fmt.Printf("  %s receives %d action(s): %v\n", sess, len(out), out)
	}
	eng.AfterBroadcast()

	return nil
}

func showSession(ctx context.Context, eng *engine.Engine, db *store.SQLiteStore, sess docmodel.SessionHandle) error {
	full, err := eng.HasFullAccess(sess)
	if err != nil {
		return fmt.Errorf("checking full access for %s: %w", sess, err)
	}
	fmt.Printf("\n%s (full access: %v):\n", sess, full)

	table, err := db.Table("tasks")
	if err != nil {
		return fmt.Errorf("opening tasks table: %w", err)
	}
	rows, err := table.Records(ctx)
	if err != nil {
		return fmt.Errorf("reading tasks: %w", err)
	}

	data := &engine.TableData{TableID: "tasks", Columns: []string{"id", "owner", "title", "notes"}, Rows: rows}
	filtered, err := eng.FilterData(sess, data)
	if err != nil {
		return fmt.Errorf("filtering tasks for %s: %w", sess, err)
	}

	for _, row := range filtered.Rows {
		fmt.Printf("  task %s: %v\n", row.ID, row.Values)
	}
	return nil
}

// docDataOver adapts a *store.SQLiteStore to docmodel.DocData, the
// narrower table-lookup surface the User-Attribute Resolver consumes.
type docDataAdapter struct{ db *store.SQLiteStore }

func docDataOver(db *store.SQLiteStore) docDataAdapter { return docDataAdapter{db: db} }

func (d docDataAdapter) Table(tableID string) (docmodel.TableReader, error) {
	return d.db.Table(tableID)
}
