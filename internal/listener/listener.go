package listener

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// ErrClosed is returned by GetInput on Ctrl+D or Ctrl+C.
var ErrClosed = errors.New("input closed")

var rl *readline.Instance
var mu sync.Mutex
var holdAsync bool
var heldLines []string

func Init(prompt, historyFile string) error {
	var err error
	rl, err = readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("/help"),
			readline.PcItem("/goals"),
			readline.PcItem("/add"),
			readline.PcItem("/edit"),
			readline.PcItem("/delete"),
			readline.PcItem("/lock"),
			readline.PcItem("/unlock"),
			readline.PcItem("/done"),
			readline.PcItem("/undone"),
			readline.PcItem("/toggle",
				readline.PcItem("infer"),
				readline.PcItem("merge"),
				readline.PcItem("evaluate"),
			),
			readline.PcItem("/reset"),
			readline.PcItem("/exit"),
		),
	})
	return err
}

func Close() {
	if rl != nil {
		_ = rl.Close()
	}
}

func SetPrompt(p string) {
	mu.Lock()
	defer mu.Unlock()
	if rl != nil {
		rl.SetPrompt(p)
	}
}

// BeginInteractive holds async output until EndInteractive so a question is
// not interleaved with pipeline events.
func BeginInteractive() {
	mu.Lock()
	holdAsync = true
	mu.Unlock()
}

func EndInteractive() {
	mu.Lock()
	defer mu.Unlock()
	holdAsync = false
	for _, s := range heldLines {
		printAboveUnlocked(s)
	}
	heldLines = nil
}

func printAboveUnlocked(s string) {
	if rl == nil {
		fmt.Println(s)
		return
	}
	_, _ = rl.Write([]byte("\r\n" + s + "\r\n"))
	rl.Refresh()
}

func PrintAbove(s string) {
	mu.Lock()
	defer mu.Unlock()
	printAboveUnlocked(s)
}

// GetInput reads one trimmed line.
func GetInput() (string, error) {
	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", ErrClosed
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func GetConfirmation(prompt string) string {
	mu.Lock()
	old := rl.Config.Prompt
	rl.SetPrompt(prompt)
	mu.Unlock()

	line, err := rl.Readline()
	if err != nil {
		line = ""
	}
	ans := strings.TrimSpace(strings.ToLower(line))

	mu.Lock()
	rl.SetPrompt(old)
	mu.Unlock()
	return ans
}

func AsyncPrintln(s string) {
	if s == "" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if holdAsync {
		heldLines = append(heldLines, s)
		return
	}
	printAboveUnlocked(s)
}

func AskYesNo(question string) bool {
	BeginInteractive()
	defer EndInteractive()

	PrintAbove(question + " [y/n]")

	for {
		ans := GetConfirmation("> ")
		if ans == "y" || ans == "yes" {
			return true
		}
		if ans == "n" || ans == "no" || ans == "" {
			return false
		}
		PrintAbove("Please answer y/n.")
	}
}
