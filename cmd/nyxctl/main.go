// Package main provides the nyxbox command line client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/nyxbox/internal/api/connect"
)

var (
	app       = kingpin.New("nyxctl", "nyxbox player client")
	server    = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("NYX_SERVER").String()
	requester = app.Flag("as", "Requester name").Default("nyxctl").Envar("USER").String()
	token     = app.Flag("token", "Admin token (or set NYX_ADMIN_TOKEN env)").Envar("NYX_ADMIN_TOKEN").String()

	// play command
	playCmd   = app.Command("play", "Search the library and queue a song")
	playDest  = playCmd.Flag("to", "Destination to join").String()
	playQuery = playCmd.Arg("query", "Search text").Required().Strings()

	// select command
	selectCmd    = app.Command("select", "Answer an open selection prompt")
	selectPrompt = selectCmd.Arg("prompt-id", "Prompt ID").Required().String()
	selectChoice = selectCmd.Arg("choice", "Candidate number (1-9) or keycap symbol").Required().String()

	// cancel command
	cancelCmd    = app.Command("cancel", "Cancel an open selection prompt")
	cancelPrompt = cancelCmd.Arg("prompt-id", "Prompt ID").Required().String()

	// search command
	searchCmd   = app.Command("search", "Search the library without queueing")
	searchQuery = searchCmd.Arg("query", "Search text").Required().Strings()

	// join command
	joinCmd  = app.Command("join", "Join an audio destination")
	joinDest = joinCmd.Arg("destination", "Destination name").String()

	leaveCmd       = app.Command("leave", "Leave the current destination")
	skipCmd        = app.Command("skip", "Skip the current song")
	stopCmd        = app.Command("stop", "Stop playback and clear the queue")
	pauseCmd       = app.Command("pause", "Pause playback")
	resumeCmd      = app.Command("resume", "Resume playback")
	togglePauseCmd = app.Command("toggle", "Toggle pause")
	loopCmd        = app.Command("loop", "Toggle loop mode")
	shuffleCmd     = app.Command("shuffle", "Shuffle the queue")
	statusCmd      = app.Command("status", "Show player status").Default()

	// volume command
	volumeCmd     = app.Command("volume", "Show or set the volume")
	volumePercent = volumeCmd.Arg("percent", "Volume (0-100)").String()

	// remove command
	removeCmd      = app.Command("remove", "Remove a queued song")
	removePosition = removeCmd.Arg("position", "Queue position (from 1)").Required().Int()

	subscribeCmd = app.Command("subscribe", "Stream player notifications")

	// admin commands
	rescanCmd  = app.Command("rescan", "Rescan the music library (admin)")
	libraryCmd = app.Command("library", "Show library size (admin)")
	kickCmd    = app.Command("kick", "Force the player to leave (admin)")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	ctx := context.Background()

	switch command {
	case playCmd.FullCommand():
		play(ctx)
	case selectCmd.FullCommand():
		choose(ctx)
	case cancelCmd.FullCommand():
		call(ctx, apiconnect.PlayerCancelSelectionProcedure, map[string]any{"prompt_id": *cancelPrompt})
		fmt.Println("Selection cancelled")
	case searchCmd.FullCommand():
		res := call(ctx, apiconnect.PlayerSearchProcedure, map[string]any{"query": strings.Join(*searchQuery, " ")})
		printEntries(res["results"], true)
	case joinCmd.FullCommand():
		call(ctx, apiconnect.PlayerJoinProcedure, map[string]any{"destination": *joinDest})
		fmt.Println("Joined")
	case leaveCmd.FullCommand():
		simple(ctx, apiconnect.PlayerLeaveProcedure, "Left destination")
	case skipCmd.FullCommand():
		simple(ctx, apiconnect.PlayerSkipProcedure, "Song skipped")
	case stopCmd.FullCommand():
		simple(ctx, apiconnect.PlayerStopProcedure, "Playback stopped")
	case pauseCmd.FullCommand():
		simple(ctx, apiconnect.PlayerPauseProcedure, "Playback paused")
	case resumeCmd.FullCommand():
		simple(ctx, apiconnect.PlayerResumeProcedure, "Playback resumed")
	case togglePauseCmd.FullCommand():
		res := call(ctx, apiconnect.PlayerTogglePauseProcedure, nil)
		fmt.Printf("Paused: %v\n", res["paused"])
	case loopCmd.FullCommand():
		res := call(ctx, apiconnect.PlayerToggleLoopProcedure, nil)
		fmt.Printf("Loop: %v\n", res["loop"])
	case shuffleCmd.FullCommand():
		res := call(ctx, apiconnect.PlayerShuffleProcedure, nil)
		printEntries(res["queue"], false)
	case volumeCmd.FullCommand():
		volume(ctx)
	case removeCmd.FullCommand():
		res := call(ctx, apiconnect.PlayerRemoveProcedure, map[string]any{"position": *removePosition})
		fmt.Printf("Removed: %s\n", formatEntry(res["removed"]))
	case statusCmd.FullCommand():
		printStatus(call(ctx, apiconnect.PlayerGetStatusProcedure, nil))
	case subscribeCmd.FullCommand():
		subscribe(ctx)
	case rescanCmd.FullCommand():
		res := adminCall(ctx, apiconnect.AdminRescanProcedure)
		fmt.Printf("Added %v songs (%v total)\n", res["added"], res["total"])
	case libraryCmd.FullCommand():
		res := adminCall(ctx, apiconnect.AdminGetLibraryProcedure)
		fmt.Printf("Library: %v songs\n", res["total"])
	case kickCmd.FullCommand():
		adminCall(ctx, apiconnect.AdminLeaveProcedure)
		fmt.Println("Player disconnected")
	}
}

func newClient(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
	return connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, *server+procedure)
}

func request(fields map[string]any) *connect.Request[structpb.Struct] {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return connect.NewRequest(msg)
}

func send(ctx context.Context, procedure string, req *connect.Request[structpb.Struct]) map[string]any {
	resp, err := newClient(procedure).CallUnary(ctx, req)
	if err != nil {
		fmt.Printf("Error: %s\n", errorMessage(err))
		os.Exit(1)
	}
	return resp.Msg.AsMap()
}

func call(ctx context.Context, procedure string, fields map[string]any) map[string]any {
	return send(ctx, procedure, request(fields))
}

func adminCall(ctx context.Context, procedure string) map[string]any {
	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or NYX_ADMIN_TOKEN env)")
		os.Exit(1)
	}
	req := request(nil)
	req.Header().Set(apiconnect.AdminTokenHeader, *token)
	return send(ctx, procedure, req)
}

func simple(ctx context.Context, procedure, done string) {
	call(ctx, procedure, nil)
	fmt.Println(done)
}

// errorMessage prefers the server's user-facing message over the raw error.
func errorMessage(err error) string {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err.Error()
	}
	if code := cerr.Meta().Get(apiconnect.ErrorCodeHeader); code != "" {
		return fmt.Sprintf("%s (%s)", cerr.Message(), code)
	}
	return cerr.Message()
}

func play(ctx context.Context) {
	res := call(ctx, apiconnect.PlayerPlayProcedure, map[string]any{
		"requester":   *requester,
		"destination": *playDest,
		"query":       strings.Join(*playQuery, " "),
	})
	printPlayResult(res)
}

func choose(ctx context.Context) {
	fields := map[string]any{"prompt_id": *selectPrompt}
	if n, err := strconv.Atoi(*selectChoice); err == nil {
		fields["position"] = n
	} else {
		fields["symbol"] = *selectChoice
	}
	printPlayResult(call(ctx, apiconnect.PlayerSelectProcedure, fields))
}

func volume(ctx context.Context) {
	if *volumePercent == "" {
		res := call(ctx, apiconnect.PlayerGetVolumeProcedure, nil)
		fmt.Printf("Volume: %v%%\n", res["percent"])
		return
	}
	percent, err := strconv.Atoi(*volumePercent)
	if err != nil {
		fmt.Printf("Error: invalid volume %q\n", *volumePercent)
		os.Exit(1)
	}
	res := call(ctx, apiconnect.PlayerSetVolumeProcedure, map[string]any{"percent": percent})
	fmt.Printf("Volume set to %v%%\n", res["percent"])
}

func printPlayResult(res map[string]any) {
	if queued, _ := res["queued"].(bool); queued {
		fmt.Printf("Queued at #%v: %s\n", res["position"], formatEntry(res["entry"]))
		return
	}
	p, _ := res["prompt"].(map[string]any)
	fmt.Printf("Several songs matched. Answer with: nyxctl select %v <choice>\n", p["id"])
	printEntries(p["candidates"], true)
}

func printStatus(s map[string]any) {
	fmt.Println("\n=== PLAYER STATUS ===")
	fmt.Printf("State: %v\n", s["state"])
	if id, _ := s["session_id"].(string); id != "" {
		fmt.Printf("Session ID: %s\n", id)
		fmt.Printf("Destination: %v\n", s["destination"])
	}
	fmt.Printf("Volume: %v%%  Loop: %v  Paused: %v\n", s["volume"], s["loop"], s["paused"])

	if cur, ok := s["current"]; ok {
		fmt.Printf("\nNow Playing: %s\n", formatEntry(cur))
	} else {
		fmt.Println("\nNothing playing")
	}

	queue, _ := s["queue"].([]any)
	fmt.Printf("\nQueue (%d/%v):\n", len(queue), s["capacity"])
	printEntries(s["queue"], false)

	if p, ok := s["prompt"].(map[string]any); ok {
		fmt.Printf("\nOpen prompt %v for %v:\n", p["id"], p["requester"])
		printEntries(p["candidates"], true)
	}
	if e, ok := s["last_error"]; ok {
		fmt.Printf("\nLast error: %v\n", e)
	}
	fmt.Println()
}

func printEntries(v any, symbols bool) {
	list, _ := v.([]any)
	for i, item := range list {
		label := fmt.Sprintf("%2d.", i+1)
		if m, ok := item.(map[string]any); ok && symbols {
			if sym, ok := m["symbol"].(string); ok {
				label = sym
			}
		}
		fmt.Printf("  %s %s\n", label, formatEntry(item))
	}
}

func formatEntry(v any) string {
	m, _ := v.(map[string]any)
	if m == nil {
		return "-"
	}
	if artist, _ := m["artist"].(string); artist != "" {
		return fmt.Sprintf("%v - %s", m["title"], artist)
	}
	return fmt.Sprintf("%v", m["title"])
}

func subscribe(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := newClient(apiconnect.PlayerSubscribeProcedure).CallServerStream(ctx, request(nil))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	fmt.Println("Subscribed to notifications. Press Ctrl+C to exit.")

	for stream.Receive() {
		printNotification(stream.Msg().AsMap())
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printNotification(n map[string]any) {
	fmt.Printf("\n[Sequence: %v] ", n["sequence_no"])

	switch n["type"] {
	case "initial_state":
		fmt.Println("=== INITIAL STATE ===")
		printStatus(n)
		return
	case "track_started":
		fmt.Printf("Now playing: %s\n", formatEntry(n["entry"]))
	case "track_ended":
		fmt.Printf("Finished: %s (%v)\n", formatEntry(n["entry"]), n["reason"])
	case "enqueued":
		fmt.Printf("Queued at #%v: %s\n", n["position"], formatEntry(n["entry"]))
	case "prompt_opened":
		fmt.Printf("Prompt %v opened:\n", n["prompt_id"])
		printEntries(n["candidates"], true)
	case "prompt_closed":
		fmt.Printf("Prompt %v closed\n", n["prompt_id"])
	default:
		fmt.Printf("%v", n["type"])
		if dest, ok := n["destination"]; ok {
			fmt.Printf(" destination=%v", dest)
		}
		if msg, ok := n["message"]; ok {
			fmt.Printf(" %v", msg)
		}
		fmt.Println()
	}
}
