package symbol

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	helperEnv   = "TAUPHI_TEST_TRANSLATOR"
	missingFile = "/missing/file"
)

// helperAnswers is what the fake worker knows, keyed by file relative
// address.
var helperAnswers = map[uint64][]string{
	0x500: {"main", "/src/app.c:12"},
	0x600: {"inner", "/src/app.c:30", "outer", "/src/app.c:41 (discriminator 2)"},
	0x700: {"_ZN3foo3barEv", "??:0"},
	0x800: {"??", "/src/app.c:50"},
}

// TestHelperTranslator is not a test. It acts as an addr2line -a -f -i
// worker when started by helperCommand.
func TestHelperTranslator(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 || args[1] == missingFile {
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		addr, err := strconv.ParseUint(strings.TrimPrefix(scanner.Text(), "0x"), 16, 64)
		if err != nil {
			os.Exit(2)
		}
		fmt.Fprintf(writer, "0x%016x\n", addr)
		answer, ok := helperAnswers[addr]
		if !ok {
			answer = []string{"??", "??:0"}
		}
		for _, line := range answer {
			fmt.Fprintln(writer, line)
		}
		writer.Flush()
	}
	os.Exit(0)
}

type spawnCounter struct {
	mutex  sync.Mutex
	counts map[string]int
}

func (counter *spawnCounter) get(path string) int {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	return counter.counts[path]
}

func helperCommand(counter *spawnCounter) CommandFunc {
	return func(file string) *exec.Cmd {
		if counter != nil {
			counter.mutex.Lock()
			if counter.counts == nil {
				counter.counts = map[string]int{}
			}
			counter.counts[file]++
			counter.mutex.Unlock()
		}
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperTranslator$", "--", file)
		cmd.Env = append(os.Environ(), helperEnv+"=1")
		return cmd
	}
}
