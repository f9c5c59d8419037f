package cli

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/iudanet/gophcollab/internal/client/iocli"
)

var (
	// ErrQuit команда завершения сеанса
	ErrQuit = errors.New("quit")

	// ErrPromptBusy другой вопрос еще ждет ответа
	ErrPromptBusy = errors.New("another question is waiting for an answer")
)

// Console один читатель ввода для команд сеанса и вопросов голосования.
// Пока вопрос открыт, следующая строка ввода считается ответом на него.
type Console struct {
	io       iocli.IO
	lines    chan string
	question chan bool
	autoVote *bool
	once     sync.Once
	mu       sync.Mutex
}

// NewConsole создает консоль. autoVote задает ответ без вопроса, nil - спрашивать.
func NewConsole(console iocli.IO, autoVote *bool) *Console {
	return &Console{io: console, autoVote: autoVote}
}

func (c *Console) start() <-chan string {
	c.once.Do(func() {
		c.lines = make(chan string)
		go func() {
			defer close(c.lines)
			for {
				line, err := c.io.ReadInput("")
				if err != nil {
					return
				}
				c.lines <- line
			}
		}()
	})
	return c.lines
}

// Run читает команды до quit, конца ввода или отмены ctx.
// Ошибки команд выводятся и не прерывают сеанс.
func (c *Console) Run(ctx context.Context, handle func(ctx context.Context, line string) error) error {
	lines := c.start()
	for {
		if c.io.Interactive() && !c.asking() {
			c.io.Printf("> ")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.answer(line) {
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			err := handle(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.io.Printf("Error: %v\n", err)
			}
		}
	}
}

func (c *Console) asking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.question != nil
}

// answer отдает строку открытому вопросу. Вопрос закрывается здесь же,
// поэтому следующая строка уже считается командой.
func (c *Console) answer(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.question == nil {
		return false
	}
	ok, valid := parseYes(line)
	if !valid {
		c.io.Printf("Please answer y or n: ")
		return true
	}
	c.question <- ok
	c.question = nil
	return true
}

// Confirm спрашивает участника, согласен ли он с ответом группы
func (c *Console) Confirm(ctx context.Context, round int) (bool, error) {
	if c.autoVote != nil {
		c.io.Printf("Round %d: voting %s automatically\n", round, voteWord(*c.autoVote))
		return *c.autoVote, nil
	}

	answers := make(chan bool, 1)
	c.mu.Lock()
	if c.question != nil {
		c.mu.Unlock()
		return false, ErrPromptBusy
	}
	c.question = answers
	c.mu.Unlock()

	c.io.Printf("\nRound %d: the speaker submitted the group answer. Accept? [y/n] ", round)
	select {
	case ok := <-answers:
		return ok, nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.question == answers {
			c.question = nil
		}
		c.mu.Unlock()
		return false, ctx.Err()
	}
}

func parseYes(line string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "accept", "да":
		return true, true
	case "n", "no", "reject", "нет":
		return false, true
	default:
		return false, false
	}
}

func voteWord(accept bool) string {
	if accept {
		return "accept"
	}
	return "reject"
}
