package symbol

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTranslatorTool = "addr2line"
	TranslationCacheSize  = 1024

	// sentinelAddr is requested after every address so the end of a
	// variable length inlined response can be detected.
	sentinelAddr = ^uint64(0)
	unknownName  = "??"
)

// CommandFunc builds the worker command for one file. The command must
// echo every address (0x...) followed by function name and file:line pairs
// on stdout, the way addr2line -a -f -i does.
type CommandFunc func(file string) *exec.Cmd

func Addr2Line(tool string) CommandFunc {
	return func(file string) *exec.Cmd {
		return exec.Command(tool, "-a", "-f", "-i", "-C", "-e", file)
	}
}

type Frame struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// FuncSymbol is a resolved address. Inlined holds the callers that were
// inlined into the function, innermost first. Location is empty when only
// the name is known.
type FuncSymbol struct {
	Name     string  `json:"name"`
	Location string  `json:"location"`
	Inlined  []Frame `json:"inlined,omitempty"`
}

func (symbol *FuncSymbol) String() string {
	if symbol == nil {
		return "[unknown]"
	}
	if symbol.Location == "" {
		return symbol.Name
	}
	return symbol.Name + " " + symbol.Location
}

// Translator owns one worker process bound to one file. The worker is
// started by the first Translate call.
type Translator struct {
	path    string
	command CommandFunc
	metrics *Metrics
	logger  *logrus.Entry

	mutex    sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	cache    *lru.Cache
	spawnErr error
	dead     bool
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

func NewTranslator(path string, command CommandFunc, metrics *Metrics) *Translator {
	if command == nil {
		command = Addr2Line(DefaultTranslatorTool)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Translator{
		path:    path,
		command: command,
		metrics: metrics,
		logger:  logrus.WithField("file", path),
		cache:   lru.New(TranslationCacheSize),
	}
}

func (translator *Translator) Path() string {
	return translator.path
}

func (translator *Translator) spawn() error {
	cmd := translator.command(translator.path)
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	translator.cmd = cmd
	translator.stdin = stdin
	translator.stdout = bufio.NewReader(stdout)
	translator.metrics.TranslatorsSpawned.Inc()
	runtime.SetFinalizer(translator, (*Translator).leaked)
	return nil
}

func (translator *Translator) leaked() {
	if translator.closed {
		return
	}
	assertf("Translator for [%s] was never closed", translator.path)
	if translator.cmd != nil && translator.cmd.Process != nil {
		translator.cmd.Process.Kill()
		translator.cmd.Wait()
	}
}

// Translate resolves a file relative address. A nil symbol with a nil error
// means the worker answered but did not know the address.
func (translator *Translator) Translate(addr uint64) (*FuncSymbol, error) {
	translator.mutex.Lock()
	defer translator.mutex.Unlock()

	if translator.closed {
		return nil, ErrTranslatorClosed
	}
	if value, ok := translator.cache.Get(addr); ok {
		return value.(*FuncSymbol), nil
	}
	if translator.spawnErr != nil {
		return nil, translator.spawnErr
	}
	if translator.dead {
		return nil, ErrTranslatorDead
	}

	if translator.cmd == nil {
		if err := translator.spawn(); err != nil {
			translator.metrics.SpawnErrors.Inc()
			translator.spawnErr = &TranslatorSpawnError{Path: translator.path, Err: err}
			translator.logger.Warnf("Failed to spawn translator, err [%s]", err)
			return nil, translator.spawnErr
		}
	}

	symbol, err := translator.request(addr)
	if err != nil {
		translator.dead = true
		translator.metrics.TranslatorErrors.Inc()
		translator.logger.Debugf("Failed to translate [0x%x], err [%s]", addr, err)
		return nil, err
	}
	translator.cache.Add(addr, symbol)
	return symbol, nil
}

func (translator *Translator) request(addr uint64) (*FuncSymbol, error) {
	if _, err := fmt.Fprintf(translator.stdin, "0x%x\n0x%x\n", addr, sentinelAddr); err != nil {
		return nil, errors.Wrap(err, "failed to write request")
	}

	echo, err := translator.readLine()
	if err != nil {
		return nil, err
	}
	if echoed, ok := parseEcho(echo); !ok || echoed != addr {
		return nil, errors.Errorf("unexpected address echo [%s]", echo)
	}

	frames := []Frame{}
	for {
		line, err := translator.readLine()
		if err != nil {
			return nil, err
		}
		if echoed, ok := parseEcho(line); ok && echoed == sentinelAddr {
			break
		}
		location, err := translator.readLine()
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Name: line, Location: location})
	}

	// The sentinel's own answer.
	for i := 0; i < 2; i++ {
		if _, err := translator.readLine(); err != nil {
			return nil, err
		}
	}

	return newFuncSymbol(frames), nil
}

func (translator *Translator) readLine() (string, error) {
	line, err := translator.stdout.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "failed to read response")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseEcho(line string) (uint64, bool) {
	if !strings.HasPrefix(line, "0x") {
		return 0, false
	}
	addr, err := strconv.ParseUint(line[2:], 16, 64)
	return addr, err == nil
}

func newFuncSymbol(frames []Frame) *FuncSymbol {
	for i := range frames {
		frames[i].Name = cleanName(frames[i].Name)
		frames[i].Location = cleanLocation(frames[i].Location)
	}
	if len(frames) == 0 || frames[0].Name == "" {
		return nil
	}

	symbol := &FuncSymbol{Name: frames[0].Name, Location: frames[0].Location}
	if len(frames) > 1 {
		symbol.Inlined = frames[1:]
	}
	return symbol
}

func cleanName(name string) string {
	if name == unknownName {
		return ""
	}
	return demangle.Filter(name)
}

// cleanLocation drops unknown markers (??:0, ??:?) and discriminator
// suffixes.
func cleanLocation(location string) string {
	if idx := strings.Index(location, " (discriminator"); idx >= 0 {
		location = location[:idx]
	}
	if strings.HasPrefix(location, unknownName+":") {
		return ""
	}
	return location
}

// Close kills and reaps the worker. It is safe to call more than once.
func (translator *Translator) Close() error {
	translator.closeOnce.Do(func() {
		translator.mutex.Lock()
		defer translator.mutex.Unlock()

		translator.closed = true
		runtime.SetFinalizer(translator, nil)
		if translator.cmd == nil {
			return
		}

		translator.stdin.Close()
		translator.cmd.Process.Kill()
		if err := translator.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				assertf("Failed to reap translator for [%s], err [%s]", translator.path, err)
				translator.closeErr = errors.Wrapf(err, "failed to reap translator for [%s]", translator.path)
			}
		}
	})
	return translator.closeErr
}
