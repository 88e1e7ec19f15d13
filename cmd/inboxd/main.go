package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"inboxd/internal/daemon"
	"inboxd/internal/model"
	"inboxd/internal/setup"
	"inboxd/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "seed":
		runSeed(os.Args[2:])
	case "request":
		runRequest(os.Args[2:])
	case "undo":
		runUndo(os.Args[2:])
	case "get":
		runGet(os.Args[2:])
	case "action":
		runAction(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "ping":
		runPing(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("inboxd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .inboxd/ directory not found. Run 'inboxd setup <dir>' first.")
		os.Exit(1)
	}

	configPath := filepath.Join(dataDir, setup.ConfigFileName)
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dataDir, configPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: inboxd setup <project_dir>")
		os.Exit(1)
	}

	target := filepath.Join(args[0], ".inboxd")
	if err := setup.Run(target); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(target)
	fmt.Printf("Initialized .inboxd/ in %s\n", absDir)
}

func runSeed(args []string) {
	var entityID, seedFile, label string
	read := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--id":
			entityID = flagValue(args, &i, "--id")
		case "--file":
			seedFile = flagValue(args, &i, "--file")
		case "--label":
			label = flagValue(args, &i, "--label")
		case "--read":
			read = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: inboxd seed --id <entity_id> [--label <name>] [--read] | --file <seeds.yaml>\n", args[i])
			os.Exit(1)
		}
	}

	if seedFile != "" {
		sf, err := setup.LoadSeeds(seedFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed: %v\n", err)
			os.Exit(1)
		}
		client := dialDaemon()
		for _, e := range sf.Entities {
			resp := send(client, uds.CmdSeed, uds.SeedParams{EntityID: e.ID, State: e.State}, "seed")
			printData(resp.Data)
		}
		return
	}

	if entityID == "" {
		fmt.Fprintln(os.Stderr, "usage: inboxd seed --id <entity_id> [--label <name>] [--read] | --file <seeds.yaml>")
		os.Exit(1)
	}

	resp := send(dialDaemon(), uds.CmdSeed, uds.SeedParams{
		EntityID: entityID,
		State:    model.EntityState{Label: label, IsRead: read},
	}, "seed")
	printData(resp.Data)
}

func runRequest(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: inboxd request <entity_id> <kind> [options]")
		os.Exit(1)
	}

	entityID := args[0]
	kind := model.ActionKind(args[1])
	rest := args[2:]

	var params model.ActionParams
	var graceMs *int

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--read":
			params.Read = parseBoolFlag(rest, &i, "--read")
		case "--starred":
			params.Starred = parseBoolFlag(rest, &i, "--starred")
		case "--archived":
			params.Archived = parseBoolFlag(rest, &i, "--archived")
		case "--until":
			v := flagValue(rest, &i, "--until")
			params.SnoozeTo = &v
		case "--label":
			v := flagValue(rest, &i, "--label")
			params.Label = &v
		case "--campaign":
			v := flagValue(rest, &i, "--campaign")
			params.CampaignID = &v
		case "--body":
			v := flagValue(rest, &i, "--body")
			params.Body = &v
		case "--grace-ms":
			v := flagValue(rest, &i, "--grace-ms")
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				fmt.Fprintf(os.Stderr, "invalid --grace-ms value: %s\n", v)
				os.Exit(1)
			}
			graceMs = &n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			fmt.Fprintln(os.Stderr, "usage: inboxd request <entity_id> <kind> [--read|--starred|--archived <bool>] [--until <ts>] [--label <name>] [--campaign <id>] [--body <text>] [--grace-ms <n>]")
			os.Exit(1)
		}
	}

	resp, err := dialDaemon().RequestMutation(uds.RequestParams{
		EntityID: entityID,
		Kind:     kind,
		Params:   params,
		GraceMs:  graceMs,
	})
	printData(check(resp, err, "request").Data)
}

func runUndo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: inboxd undo <action_id>")
		os.Exit(1)
	}

	resp, err := dialDaemon().UndoAction(args[0])
	printData(check(resp, err, "undo").Data)
}

func runGet(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: inboxd get <entity_id>")
		os.Exit(1)
	}

	resp := send(dialDaemon(), uds.CmdGet, uds.GetParams{EntityID: args[0]}, "get")
	printData(resp.Data)
}

func runAction(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: inboxd action <action_id>")
		os.Exit(1)
	}

	resp := send(dialDaemon(), uds.CmdAction, uds.ActionParams{ActionID: args[0]}, "action")
	printData(resp.Data)
}

func runStats(_ []string) {
	resp := send(dialDaemon(), uds.CmdStats, nil, "stats")
	printData(resp.Data)
}

func runPing(_ []string) {
	send(dialDaemon(), uds.CmdPing, nil, "ping")
	fmt.Println("ok")
}

func runShutdown(_ []string) {
	send(dialDaemon(), uds.CmdShutdown, nil, "shutdown")
	fmt.Println("shutdown requested")
}

func flagValue(args []string, i *int, name string) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", name)
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func parseBoolFlag(args []string, i *int, name string) *bool {
	v := flagValue(args, i, name)
	b, err := strconv.ParseBool(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s value: %s\n", name, v)
		os.Exit(1)
	}
	return &b
}

func dialDaemon() *uds.Client {
	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .inboxd/ directory not found. Run 'inboxd setup <dir>' first.")
		os.Exit(1)
	}
	return uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
}

// send performs one command round-trip.
func send(client *uds.Client, command string, params any, label string) *uds.Response {
	resp, err := client.SendCommand(command, params)
	return check(resp, err, label)
}

// check exits on failure, with a distinct code when an undo lost the race
// (too late or stale) so scripts can tell it apart from hard errors.
func check(resp *uds.Response, err error, label string) *uds.Response {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", label, code, msg)
		if code == uds.ErrCodeTooLate || code == uds.ErrCodeStaleUndo {
			os.Exit(2)
		}
		os.Exit(1)
	}
	return resp
}

func printData(data json.RawMessage) {
	if data == nil {
		return
	}
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}

// findDataDir searches for .inboxd/ in the current directory and ancestors.
func findDataDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".inboxd")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `inboxd %s — Deferred-commit inbox mutation engine

Usage: inboxd <command> [options]

Setup:
  setup <dir>                  Initialize .inboxd/ data directory
  daemon                       Run the daemon process

Mutations (CLI → Daemon):
  seed --id <entity_id> [--label <name>] [--read]
  seed --file <seeds.yaml>
  request <entity_id> <kind> [options]
                               Kinds: mark_read, star, archive, delete,
                               snooze, relabel, move_campaign, send_message
  undo <action_id>             Cancel a pending action

Inspection:
  get <entity_id>              Show an entity projection
  action <action_id>           Show an action descriptor
  stats                        Show engine counters
  ping                         Check the daemon

Utilities:
  shutdown                     Stop the daemon
  version                      Show version
  help                         Show this help

`, version)
}
