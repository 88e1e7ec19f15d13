package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inboxd/internal/model"
	"inboxd/internal/uds"
)

// startTestDaemon boots a full daemon in a temp dir and returns a connected
// client. The daemon is shut down on test cleanup.
func startTestDaemon(t *testing.T, cfg model.Config) (*Daemon, *uds.Client, string) {
	t.Helper()

	// Use /tmp directly to stay under the Unix socket path length limit.
	dataDir, err := os.MkdirTemp("/tmp", "inboxd-d-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dataDir) })

	configPath := filepath.Join(dataDir, "inboxd.yaml")
	if err := os.WriteFile(configPath, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	d, err := newDaemon(dataDir, configPath, cfg, io.Discard, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()
	t.Cleanup(func() {
		d.Shutdown()
		select {
		case err := <-runErr:
			if err != nil {
				t.Errorf("daemon run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	sockPath := filepath.Join(dataDir, uds.DefaultSocketName)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(sockPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := uds.NewClient(sockPath)
	client.SetTimeout(5 * time.Second)
	return d, client, dataDir
}

func seedEntity(t *testing.T, client *uds.Client, entityID string, state model.EntityState) {
	t.Helper()
	resp, err := client.SendCommand(uds.CmdSeed, uds.SeedParams{EntityID: entityID, State: state})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("seed failed: %+v", resp.Error)
	}
}

func getEntity(t *testing.T, client *uds.Client, entityID string) model.Entity {
	t.Helper()
	resp, err := client.SendCommand(uds.CmdGet, uds.GetParams{EntityID: entityID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !resp.Success {
		t.Fatalf("get failed: %+v", resp.Error)
	}
	var ent model.Entity
	if err := json.Unmarshal(resp.Data, &ent); err != nil {
		t.Fatalf("decode entity: %v", err)
	}
	return ent
}

func actionStatus(t *testing.T, client *uds.Client, actionID string) model.ActionStatus {
	t.Helper()
	resp, err := client.SendCommand(uds.CmdAction, uds.ActionParams{ActionID: actionID})
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if !resp.Success {
		t.Fatalf("action failed: %+v", resp.Error)
	}
	var view model.PendingAction
	if err := json.Unmarshal(resp.Data, &view); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	return view.Status
}

func waitCommitted(t *testing.T, client *uds.Client, actionID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := actionStatus(t, client, actionID); model.IsTerminal(s) {
			if s != model.StatusCommitted {
				t.Fatalf("action %s settled as %s", actionID, s)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("action %s never committed", actionID)
}

func TestDaemonPing(t *testing.T) {
	_, client, _ := startTestDaemon(t, model.DefaultConfig())

	resp, err := client.SendCommand(uds.CmdPing, nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !resp.Success {
		t.Fatalf("ping failed: %+v", resp.Error)
	}
}

func TestDaemonRequestUndoFlow(t *testing.T) {
	_, client, _ := startTestDaemon(t, model.DefaultConfig())

	seedEntity(t, client, "ent_1700000000_00000001", model.EntityState{Label: "inbox"})

	grace := 60_000
	resp, err := client.SendCommand(uds.CmdRequest, uds.RequestParams{
		EntityID: "ent_1700000000_00000001",
		Kind:     model.KindArchive,
		GraceMs:  &grace,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !resp.Success {
		t.Fatalf("request failed: %+v", resp.Error)
	}

	var result uds.RequestResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ActionID == "" {
		t.Fatal("no action id returned")
	}
	if !result.Entity.IsArchived {
		t.Error("optimistic apply not reflected in response")
	}

	// Visible through the read path too.
	if ent := getEntity(t, client, "ent_1700000000_00000001"); !ent.State.IsArchived {
		t.Error("optimistic apply not visible via get")
	}

	resp, err = client.SendCommand(uds.CmdUndo, uds.UndoParams{ActionID: result.ActionID})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !resp.Success {
		t.Fatalf("undo failed: %+v", resp.Error)
	}

	ent := getEntity(t, client, "ent_1700000000_00000001")
	if ent.State.IsArchived {
		t.Error("undo did not restore the entity")
	}
	if ent.State.Label != "inbox" {
		t.Errorf("label = %q after undo", ent.State.Label)
	}
	if got := actionStatus(t, client, result.ActionID); got != model.StatusCancelled {
		t.Errorf("status = %s, want %s", got, model.StatusCancelled)
	}
}

func TestDaemonCommitAndLateUndo(t *testing.T) {
	_, client, dataDir := startTestDaemon(t, model.DefaultConfig())

	seedEntity(t, client, "ent_1700000000_00000002", model.EntityState{})

	grace := 0
	resp, err := client.SendCommand(uds.CmdRequest, uds.RequestParams{
		EntityID: "ent_1700000000_00000002",
		Kind:     model.KindMarkRead,
		GraceMs:  &grace,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !resp.Success {
		t.Fatalf("request failed: %+v", resp.Error)
	}
	var result uds.RequestResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	waitCommitted(t, client, result.ActionID)

	resp, err = client.SendCommand(uds.CmdUndo, uds.UndoParams{ActionID: result.ActionID})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if resp.Success {
		t.Fatal("undo of a committed action must fail")
	}
	if resp.Error.Code != uds.ErrCodeTooLate {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeTooLate)
	}

	// The durable backend recorded the mutation.
	if _, err := os.Stat(filepath.Join(dataDir, "inboxd.db")); err != nil {
		t.Errorf("durable database missing: %v", err)
	}
}

func TestDaemonUnknownEntity(t *testing.T) {
	_, client, _ := startTestDaemon(t, model.DefaultConfig())

	resp, err := client.SendCommand(uds.CmdGet, uds.GetParams{EntityID: "ent_1700000000_ffffffff"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure for unknown entity")
	}
	if resp.Error.Code != uds.ErrCodeNotFound {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeNotFound)
	}
}

func TestDaemonValidation(t *testing.T) {
	_, client, _ := startTestDaemon(t, model.DefaultConfig())

	resp, err := client.SendCommand(uds.CmdRequest, uds.RequestParams{Kind: model.KindStar})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Success || resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("expected validation error, got %+v", resp)
	}

	resp, err = client.SendCommand(uds.CmdRequest, uds.RequestParams{
		EntityID: "ent_1700000000_00000001",
		Kind:     model.ActionKind("shred"),
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Success || resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("expected validation error for bad kind, got %+v", resp)
	}

	// Malformed ids are rejected before they reach the engine.
	resp, err = client.SendCommand(uds.CmdRequest, uds.RequestParams{
		EntityID: "message-7",
		Kind:     model.KindStar,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Success || resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("expected validation error for malformed entity id, got %+v", resp)
	}

	resp, err = client.SendCommand(uds.CmdUndo, uds.UndoParams{ActionID: "undo-me"})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if resp.Success || resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("expected validation error for malformed action id, got %+v", resp)
	}
}

func TestDaemonStats(t *testing.T) {
	_, client, _ := startTestDaemon(t, model.DefaultConfig())

	for i := 0; i < 3; i++ {
		seedEntity(t, client, fmt.Sprintf("ent_1700000000_%08x", i), model.EntityState{})
	}

	resp, err := client.SendCommand(uds.CmdStats, nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !resp.Success {
		t.Fatalf("stats failed: %+v", resp.Error)
	}

	var stats map[string]int
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["entities"] != 3 {
		t.Errorf("entities = %d, want 3", stats["entities"])
	}
}

func TestDaemonShutdownCommand(t *testing.T) {
	d, client, dataDir := startTestDaemon(t, model.DefaultConfig())

	resp, err := client.SendCommand(uds.CmdShutdown, nil)
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !resp.Success {
		t.Fatalf("shutdown failed: %+v", resp.Error)
	}

	deadline := time.Now().Add(5 * time.Second)
	sockPath := filepath.Join(dataDir, uds.DefaultSocketName)
	for {
		if _, err := os.Stat(sockPath); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket not removed after shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.Shutdown() // idempotent
}

func TestDaemonConfigHotReload(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Engine.DefaultGraceMs = 0
	_, client, dataDir := startTestDaemon(t, cfg)

	configPath := filepath.Join(dataDir, "inboxd.yaml")
	updated := "engine:\n  default_grace_ms: 60000\nlogging:\n  level: debug\n"
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// Poll until a fresh request picks up the widened grace window.
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; ; i++ {
		if time.Now().After(deadline) {
			t.Fatal("reload never took effect")
		}

		entityID := fmt.Sprintf("ent_1700000000_%08x", i)
		seedEntity(t, client, entityID, model.EntityState{})
		resp, err := client.SendCommand(uds.CmdRequest, uds.RequestParams{
			EntityID: entityID,
			Kind:     model.KindStar,
		})
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if !resp.Success {
			t.Fatalf("request failed: %+v", resp.Error)
		}

		var result uds.RequestResult
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		dl, err := time.Parse(time.RFC3339, result.Deadline)
		if err != nil {
			t.Fatalf("parse deadline: %v", err)
		}
		if time.Until(dl) > 30*time.Second {
			return // new grace window active
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	d, _, dataDir := startTestDaemon(t, model.DefaultConfig())
	_ = d

	second, err := newDaemon(dataDir, filepath.Join(dataDir, "inboxd.yaml"), model.DefaultConfig(), io.Discard, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := second.Run(); err == nil {
		t.Fatal("second daemon in the same data dir must fail to start")
	}
}
