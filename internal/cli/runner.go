package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/g960059/qsyspanel/internal/api"
	"github.com/g960059/qsyspanel/internal/appclient"
	"github.com/g960059/qsyspanel/internal/panel"
)

type Runner struct {
	client *appclient.Client
	out    io.Writer
	errOut io.Writer
	custom bool
}

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	return newRunner(appclient.New(socketPath), out, errOut)
}

func NewRunnerWithClient(baseURL string, client *http.Client, out, errOut io.Writer) *Runner {
	r := newRunner(appclient.NewWithClient(baseURL, client), out, errOut)
	r.custom = true
	return r
}

func newRunner(client *appclient.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{client: client, out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	socketPath, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if socketPath != "" && !r.custom {
		r.client = appclient.New(socketPath)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "status":
		return r.runStatus(ctx, rest[1:])
	case "reconnect":
		return r.runReconnect(ctx, rest[1:])
	case "panels":
		return r.runPanels(ctx, rest[1:])
	case "eq":
		return r.runEQ(ctx, rest[1:])
	case "compressor", "limiter":
		return r.runDynamics(ctx, rest[0], rest[1:])
	case "delay":
		return r.runDelay(ctx, rest[1:])
	case "gain":
		return r.runGain(ctx, rest[1:])
	case "camera":
		return r.runCamera(ctx, rest[1:])
	case "ptz":
		return r.runPTZ(ctx, rest[1:])
	case "video":
		return r.runVideo(ctx, rest[1:])
	case "watch":
		return r.runWatch(ctx, rest[1:])
	case "journal":
		return r.runJournal(ctx, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func parseGlobalArgs(args []string) (string, []string, error) {
	socket := ""
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--socket" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--socket requires value")
			}
			socket = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return socket, rest, nil
}

// parseArgs lets flags and positionals interleave, e.g. "band 2 --field gain".
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(io.Discard)
	positional := make([]string, 0, len(args))
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return r.usageErr(err)
	}
	resp, err := r.client.Connection(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeJSON(resp)
	}
	r.printConnection(resp)
	return 0
}

func (r *Runner) runReconnect(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reconnect", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return r.usageErr(err)
	}
	resp, err := r.client.Reconnect(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeJSON(resp)
	}
	r.printConnection(resp)
	return 0
}

func (r *Runner) printConnection(resp api.ConnectionResponse) {
	state := "disconnected"
	if resp.Connected {
		state = "connected"
	}
	_, _ = fmt.Fprintf(r.out, "%s\tendpoint=%s\tgeneration=%d\thealth=%s\n", state, resp.Endpoint, resp.Generation, resp.Health)
	if resp.ReconnectPending {
		_, _ = fmt.Fprintln(r.out, "reconnect pending")
	}
	if resp.LastError != "" {
		_, _ = fmt.Fprintf(r.out, "last error: %s\n", resp.LastError)
	}
}

func (r *Runner) runPanels(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("panels", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return r.usageErr(err)
	}
	resp, err := r.client.Panels(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeJSON(resp)
	}
	r.printSnapshot(resp.Panels)
	return 0
}

func (r *Runner) printSnapshot(s panel.Snapshot) {
	_, _ = fmt.Fprintf(r.out, "version=%d connected=%t generation=%d\n", s.Version, s.Connected, s.Generation)
	_, _ = fmt.Fprintln(r.out, formatEQ(s.EQ))
	_, _ = fmt.Fprintln(r.out, formatCompressor(s.Compressor))
	_, _ = fmt.Fprintln(r.out, formatLimiter(s.Limiter))
	_, _ = fmt.Fprintln(r.out, formatDelay(s.Delay))
	_, _ = fmt.Fprintln(r.out, formatGain(s.Gain))
	_, _ = fmt.Fprintln(r.out, formatCamera(s.Camera))
	_, _ = fmt.Fprintln(r.out, formatPTZ(s.PTZ))
	_, _ = fmt.Fprintln(r.out, formatPreview(s.Preview))
	_, _ = fmt.Fprintln(r.out, formatVideo(s.Video))
}

func (r *Runner) runEQ(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	switch sub {
	case "show":
		return r.showPanel(ctx, "eq", args)
	case "band":
		fs := flag.NewFlagSet("eq band", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output JSON")
		field := fs.String("field", "", "frequency|gain|bandwidth")
		value := optionalFloat(fs, "value", "raw value")
		position := optionalFloat(fs, "position", "slider position in [0,1]")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return r.usageErr(err)
		}
		if len(pos) != 1 || strings.TrimSpace(*field) == "" {
			return r.usage("qsysctl eq band <n> --field <frequency|gain|bandwidth> (--value v | --position p)")
		}
		band, err := strconv.Atoi(pos[0])
		if err != nil {
			return r.usageErr(fmt.Errorf("band must be an integer: %q", pos[0]))
		}
		resp, err := r.client.SetEQBand(ctx, band, api.BandWriteRequest{
			Field:    strings.TrimSpace(*field),
			Value:    value.ptr(),
			Position: position.ptr(),
		})
		return r.finishWrite(resp, err, *jsonOut)
	case "bypass":
		return r.runBypass(ctx, "eq", args)
	default:
		return r.usage("qsysctl eq <show|band|bypass>")
	}
}

func (r *Runner) runDynamics(ctx context.Context, name string, args []string) int {
	sub, args := subcommand(args)
	switch sub {
	case "show":
		return r.showPanel(ctx, name, args)
	case "param":
		fs := flag.NewFlagSet(name+" param", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output JSON")
		value := optionalFloat(fs, "value", "raw value")
		position := optionalFloat(fs, "position", "slider position in [0,1]")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return r.usageErr(err)
		}
		if len(pos) != 1 {
			return r.usage("qsysctl " + name + " param <name> (--value v | --position p)")
		}
		resp, err := r.client.SetParam(ctx, name, api.ParamWriteRequest{
			Param:    pos[0],
			Value:    value.ptr(),
			Position: position.ptr(),
		})
		return r.finishWrite(resp, err, *jsonOut)
	case "bypass":
		return r.runBypass(ctx, name, args)
	default:
		return r.usage("qsysctl " + name + " <show|param|bypass>")
	}
}

func (r *Runner) runBypass(ctx context.Context, name string, args []string) int {
	fs := flag.NewFlagSet(name+" bypass", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return r.usageErr(err)
	}
	state, ok := parseSwitch(pos)
	if !ok {
		return r.usage("qsysctl " + name + " bypass [on|off|toggle]")
	}
	resp, err := r.client.SetBypass(ctx, name, state)
	return r.finishWrite(resp, err, *jsonOut)
}

func (r *Runner) runDelay(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	switch sub {
	case "show":
		return r.showPanel(ctx, "delay", args)
	case "set":
		req, jsonOut, code := r.parseValue("delay set", args)
		if code >= 0 {
			return code
		}
		resp, err := r.client.SetDelay(ctx, req)
		return r.finishWrite(resp, err, jsonOut)
	default:
		return r.usage("qsysctl delay <show|set>")
	}
}

func (r *Runner) runGain(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	switch sub {
	case "show":
		return r.showPanel(ctx, "gain", args)
	case "set":
		req, jsonOut, code := r.parseValue("gain set", args)
		if code >= 0 {
			return code
		}
		resp, err := r.client.SetGain(ctx, req)
		return r.finishWrite(resp, err, jsonOut)
	case "mute":
		fs := flag.NewFlagSet("gain mute", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output JSON")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return r.usageErr(err)
		}
		state, ok := parseSwitch(pos)
		if !ok {
			return r.usage("qsysctl gain mute [on|off|toggle]")
		}
		resp, err := r.client.SetMute(ctx, state)
		return r.finishWrite(resp, err, *jsonOut)
	default:
		return r.usage("qsysctl gain <show|set|mute>")
	}
}

// parseValue returns code -1 when the request is usable.
func (r *Runner) parseValue(name string, args []string) (api.ValueRequest, bool, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	value := optionalFloat(fs, "value", "raw value")
	position := optionalFloat(fs, "position", "slider position in [0,1]")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return api.ValueRequest{}, false, r.usageErr(err)
	}
	if len(pos) == 1 && !value.set && !position.set {
		v, err := strconv.ParseFloat(pos[0], 64)
		if err != nil {
			return api.ValueRequest{}, false, r.usageErr(fmt.Errorf("value must be a number: %q", pos[0]))
		}
		value.set, value.v = true, v
		pos = nil
	}
	if len(pos) != 0 || (!value.set && !position.set) {
		return api.ValueRequest{}, false, r.usage("qsysctl " + name + " (<value> | --value v | --position p)")
	}
	return api.ValueRequest{Value: value.ptr(), Position: position.ptr()}, *jsonOut, -1
}

func (r *Runner) runCamera(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	switch sub {
	case "show":
		return r.showPanel(ctx, "camera", args)
	case "select":
		fs := flag.NewFlagSet("camera select", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output JSON")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return r.usageErr(err)
		}
		if len(pos) != 1 {
			return r.usage("qsysctl camera select <id>")
		}
		id, err := strconv.Atoi(pos[0])
		if err != nil {
			return r.usageErr(fmt.Errorf("camera id must be an integer: %q", pos[0]))
		}
		resp, err := r.client.SelectCamera(ctx, id)
		return r.finishWrite(resp, err, *jsonOut)
	case "preview":
		fs := flag.NewFlagSet("camera preview", flag.ContinueOnError)
		outPath := fs.String("out", "", "write the JPEG frame to this file")
		if _, err := parseArgs(fs, args); err != nil {
			return r.usageErr(err)
		}
		if strings.TrimSpace(*outPath) == "" {
			return r.usage("qsysctl camera preview --out <file.jpg>")
		}
		frame, err := r.client.Preview(ctx)
		if err != nil {
			return r.handleErr(err)
		}
		if err := os.WriteFile(*outPath, frame, 0o644); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintf(r.out, "wrote %d bytes to %s\n", len(frame), *outPath)
		return 0
	default:
		return r.usage("qsysctl camera <show|select|preview>")
	}
}

func (r *Runner) runPTZ(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	fs := flag.NewFlagSet("ptz "+sub, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	switch sub {
	case "show":
		return r.showPanel(ctx, "ptz", args)
	case "move":
		pan := fs.Float64("pan", 0, "pan in [-1,1], right is positive")
		tilt := fs.Float64("tilt", 0, "tilt in [-1,1], up is positive")
		if _, err := parseArgs(fs, args); err != nil {
			return r.usageErr(err)
		}
		resp, err := r.client.MovePTZ(ctx, *pan, *tilt)
		return r.finishWrite(resp, err, *jsonOut)
	case "stop":
		if _, err := parseArgs(fs, args); err != nil {
			return r.usageErr(err)
		}
		resp, err := r.client.StopPTZ(ctx)
		return r.finishWrite(resp, err, *jsonOut)
	case "zoom":
		release := fs.Bool("release", false, "release instead of press")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return r.usageErr(err)
		}
		if len(pos) != 1 {
			return r.usage("qsysctl ptz zoom <in|out> [--release]")
		}
		resp, err := r.client.ZoomPTZ(ctx, pos[0], !*release)
		return r.finishWrite(resp, err, *jsonOut)
	default:
		return r.usage("qsysctl ptz <show|move|stop|zoom>")
	}
}

func (r *Runner) runVideo(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	switch sub {
	case "show":
		return r.showPanel(ctx, "video", args)
	case "assign", "reset":
		fs := flag.NewFlagSet("video "+sub, flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output JSON")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return r.usageErr(err)
		}
		want := 2
		usage := "qsysctl video assign <display> <source>"
		if sub == "reset" {
			want = 1
			usage = "qsysctl video reset <display>"
		}
		if len(pos) != want {
			return r.usage(usage)
		}
		nums := make([]int, 0, want)
		for _, raw := range pos {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return r.usageErr(fmt.Errorf("expected an integer, got %q", raw))
			}
			nums = append(nums, n)
		}
		var resp api.PanelResponse
		if sub == "assign" {
			resp, err = r.client.AssignVideo(ctx, nums[0], nums[1])
		} else {
			resp, err = r.client.ResetVideo(ctx, nums[0])
		}
		return r.finishWrite(resp, err, *jsonOut)
	default:
		return r.usage("qsysctl video <show|assign|reset>")
	}
}

func (r *Runner) runWatch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	cursor := fs.String("cursor", "", "watch cursor")
	jsonOut := fs.Bool("json", false, "output jsonl")
	once := fs.Bool("once", false, "single call")
	if _, err := parseArgs(fs, args); err != nil {
		return r.usageErr(err)
	}
	enc := json.NewEncoder(r.out)
	err := r.client.WatchLoop(ctx, appclient.WatchLoopOptions{
		Cursor: strings.TrimSpace(*cursor),
		Once:   *once,
	}, func(line api.WatchLine) error {
		if *jsonOut {
			return enc.Encode(line)
		}
		if line.Type == "reset" {
			_, _ = fmt.Fprintf(r.out, "reset\tcursor=%s\n", line.Cursor)
			return nil
		}
		_, _ = fmt.Fprintf(r.out, "%s\tcursor=%s\n", line.EmittedAt.Format("15:04:05.000"), line.Cursor)
		if line.Panels != nil {
			r.printSnapshot(*line.Panels)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) runJournal(ctx context.Context, args []string) int {
	sub, args := subcommand(args)
	fs := flag.NewFlagSet("journal "+sub, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	limit := fs.Int("limit", 0, "max rows")
	switch sub {
	case "writes":
		component := fs.String("component", "", "component name")
		if _, err := parseArgs(fs, args); err != nil {
			return r.usageErr(err)
		}
		env, err := r.client.JournalWrites(ctx, appclient.JournalOptions{Component: *component, Limit: *limit})
		if err != nil {
			return r.handleErr(err)
		}
		if *jsonOut {
			return r.writeJSON(env)
		}
		for _, w := range env.Writes {
			line := fmt.Sprintf("%s\t%s\t%s.%s=%s\t%s", w.RequestedAt, w.WriteID, w.Component, w.Control, w.Value, w.Result)
			if w.ErrorMessage != nil {
				line += "\t" + *w.ErrorMessage
			}
			_, _ = fmt.Fprintln(r.out, line)
		}
		return 0
	case "connection":
		if _, err := parseArgs(fs, args); err != nil {
			return r.usageErr(err)
		}
		env, err := r.client.JournalConnection(ctx, *limit)
		if err != nil {
			return r.handleErr(err)
		}
		if *jsonOut {
			return r.writeJSON(env)
		}
		for _, ev := range env.Events {
			_, _ = fmt.Fprintf(r.out, "%s\tgeneration=%d\t%s\t%s\n", ev.OccurredAt, ev.Generation, ev.EventType, ev.Detail)
		}
		return 0
	default:
		return r.usage("qsysctl journal <writes|connection>")
	}
}

func (r *Runner) showPanel(ctx context.Context, name string, args []string) int {
	fs := flag.NewFlagSet(name+" show", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return r.usageErr(err)
	}
	resp, err := r.client.Panel(ctx, name)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeJSON(resp)
	}
	return r.printPanel(resp)
}

func (r *Runner) finishWrite(resp api.PanelResponse, err error, jsonOut bool) int {
	if err != nil {
		return r.handleErr(err)
	}
	if jsonOut {
		return r.writeJSON(resp)
	}
	if resp.Move != nil {
		_, _ = fmt.Fprintf(r.out, "ptz: desired=%v writes=%d\n", resp.Move.Desired, len(resp.Move.Writes))
	}
	return r.printPanel(resp)
}

func (r *Runner) printPanel(resp api.PanelResponse) int {
	line, err := describePanel(resp.Panel, resp.State)
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, line)
	return 0
}

func (r *Runner) writeJSON(v any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return r.handleErr(err)
	}
	return 0
}

func subcommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "show", args
	}
	return args[0], args[1:]
}

// parseSwitch maps on/off to a value and toggle (or nothing) to nil.
func parseSwitch(pos []string) (*bool, bool) {
	if len(pos) == 0 {
		return nil, true
	}
	if len(pos) > 1 {
		return nil, false
	}
	switch strings.ToLower(pos[0]) {
	case "on", "true":
		v := true
		return &v, true
	case "off", "false":
		v := false
		return &v, true
	case "toggle":
		return nil, true
	default:
		return nil, false
	}
}

type floatFlag struct {
	v   float64
	set bool
}

func (f *floatFlag) String() string {
	if f == nil || !f.set {
		return ""
	}
	return strconv.FormatFloat(f.v, 'g', -1, 64)
}

func (f *floatFlag) Set(raw string) error {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f *floatFlag) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

func optionalFloat(fs *flag.FlagSet, name, usage string) *floatFlag {
	f := &floatFlag{}
	fs.Var(f, name, usage)
	return f
}

func (r *Runner) usage(line string) int {
	_, _ = fmt.Fprintf(r.errOut, "usage: %s\n", line)
	return 2
}

func (r *Runner) usageErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 2
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: qsysctl [--socket <path>] <status|reconnect|panels|eq|compressor|limiter|delay|gain|camera|ptz|video|watch|journal> ...")
}
