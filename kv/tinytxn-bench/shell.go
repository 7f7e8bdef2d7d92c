package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap-incubator/tinytxn/kv/concurrency"
	"github.com/pingcap-incubator/tinytxn/kv/table"
	"github.com/pingcap-incubator/tinytxn/kv/workload"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "shell",
		Short: "Step transactions by hand against an empty table",
		Args:  cobra.NoArgs,
		RunE:  runShellCommandFunc,
	}
	m.Flags().String("history", filepath.Join(os.TempDir(), "tinytxn-history"), "history file of the shell")
	return m
}

func runShellCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tbl, err := workload.NewTable(cfg)
	if err != nil {
		return err
	}
	history, err := cmd.Flags().GetString("history")
	if err != nil {
		return err
	}
	return shellLoop(newSession(tbl, os.Stdout), history)
}

func shellLoop(s *session, history string) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "tinytxn> ",
		HistoryFile:       history,
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer l.Close()

	for {
		select {
		case <-globalContext.Done():
			return nil
		default:
		}
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintf(s.out, "bad line: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		s.exec(args)
	}
}

// session is the state of an interactive shell: a table and the transactions opened on it by name. Commands that
// touch rows run in the current transaction.
type session struct {
	tbl     *table.Table
	out     io.Writer
	txns    map[string]*concurrency.Transaction
	current string
	seq     int
}

func newSession(tbl *table.Table, out io.Writer) *session {
	return &session{
		tbl:  tbl,
		out:  out,
		txns: make(map[string]*concurrency.Transaction),
	}
}

// exec runs one shell line split into words. Failures are printed, never returned.
func (s *session) exec(args []string) {
	cmd := s.newCommand()
	cmd.SetArgs(args)
	cmd.SetOutput(s.out)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func (s *session) newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tinytxn",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	sub := func(use, short string, args cobra.PositionalArgs, run func(args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:                   use,
			Short:                 short,
			Args:                  args,
			DisableFlagParsing:    true,
			DisableFlagsInUseLine: true,
			RunE: func(_ *cobra.Command, args []string) error {
				return run(args)
			},
		}
	}
	cmd.AddCommand(
		sub("begin [name]", "Begin a transaction and make it current", cobra.MaximumNArgs(1), s.begin),
		sub("use name", "Make an open transaction current", cobra.ExactArgs(1), s.use),
		sub("read key", "Read a key", cobra.ExactArgs(1), s.read),
		sub("insert key value", "Insert a row", cobra.ExactArgs(2), s.insert),
		sub("update key value", "Update a row", cobra.ExactArgs(2), s.update),
		sub("delete key", "Delete a row", cobra.ExactArgs(1), s.delete),
		sub("scan [from] [limit]", "Scan rows from a key", cobra.MaximumNArgs(2), s.scan),
		sub("commit [name]", "Commit a transaction", cobra.MaximumNArgs(1), s.commit),
		sub("abort [name]", "Abort a transaction", cobra.MaximumNArgs(1), s.abort),
		sub("list", "List open transactions", cobra.NoArgs, s.list),
		sub("status", "Show the engine state", cobra.NoArgs, s.status),
	)
	return cmd
}

func (s *session) txn() (*concurrency.Transaction, error) {
	if s.current == "" {
		return nil, errors.New("no current transaction, run begin first")
	}
	return s.txns[s.current], nil
}

// named returns the transaction called args[0], or the current one when args is empty.
func (s *session) named(args []string) (string, *concurrency.Transaction, error) {
	name := s.current
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return "", nil, errors.New("no current transaction, run begin first")
	}
	txn, ok := s.txns[name]
	if !ok {
		return "", nil, errors.Errorf("no open transaction %s", name)
	}
	return name, txn, nil
}

func (s *session) begin(args []string) error {
	s.seq++
	name := fmt.Sprintf("t%d", s.seq)
	if len(args) > 0 {
		name = args[0]
	}
	if _, ok := s.txns[name]; ok {
		return errors.Errorf("transaction %s is already open", name)
	}
	txn := s.tbl.Begin()
	s.txns[name] = txn
	s.current = name
	fmt.Fprintf(s.out, "%s: txn-id %d, begin-ts %d\n", name, txn.ID(), txn.BeginCID())
	return nil
}

func (s *session) use(args []string) error {
	if _, ok := s.txns[args[0]]; !ok {
		return errors.Errorf("no open transaction %s", args[0])
	}
	s.current = args[0]
	return nil
}

// report prints the outcome of a row operation and whether the transaction can still commit.
func (s *session) report(txn *concurrency.Transaction, err error) error {
	if err == nil {
		fmt.Fprintln(s.out, "ok")
		return nil
	}
	if txn.Result() == concurrency.ResultFailure {
		fmt.Fprintf(s.out, "%s can only abort now\n", s.current)
	}
	return err
}

func (s *session) read(args []string) error {
	txn, err := s.txn()
	if err != nil {
		return err
	}
	v, err := s.tbl.Read(txn, []byte(args[0]))
	if err != nil {
		return s.report(txn, err)
	}
	fmt.Fprintf(s.out, "%s = %q\n", args[0], v)
	return nil
}

func (s *session) insert(args []string) error {
	txn, err := s.txn()
	if err != nil {
		return err
	}
	return s.report(txn, s.tbl.Insert(txn, []byte(args[0]), []byte(args[1])))
}

func (s *session) update(args []string) error {
	txn, err := s.txn()
	if err != nil {
		return err
	}
	return s.report(txn, s.tbl.Update(txn, []byte(args[0]), []byte(args[1])))
}

func (s *session) delete(args []string) error {
	txn, err := s.txn()
	if err != nil {
		return err
	}
	return s.report(txn, s.tbl.Delete(txn, []byte(args[0])))
}

func (s *session) scan(args []string) error {
	txn, err := s.txn()
	if err != nil {
		return err
	}
	var from []byte
	limit := 0
	if len(args) > 0 {
		from = []byte(args[0])
	}
	if len(args) > 1 {
		if limit, err = strconv.Atoi(args[1]); err != nil {
			return errors.Errorf("invalid limit %s", args[1])
		}
	}
	kvs, err := s.tbl.Scan(txn, from, limit)
	if err != nil {
		return s.report(txn, err)
	}
	for _, kv := range kvs {
		fmt.Fprintf(s.out, "%s = %q\n", kv.Key, kv.Value)
	}
	fmt.Fprintf(s.out, "%d rows\n", len(kvs))
	return nil
}

func (s *session) finish(args []string, commit bool) error {
	name, txn, err := s.named(args)
	if err != nil {
		return err
	}
	var result concurrency.Result
	if commit {
		result = s.tbl.Commit(txn)
	} else {
		result = s.tbl.Abort(txn)
	}
	delete(s.txns, name)
	if s.current == name {
		s.current = ""
	}
	fmt.Fprintf(s.out, "%s: %s, end-ts %d\n", name, result, txn.EndCID())
	return nil
}

func (s *session) commit(args []string) error {
	return s.finish(args, true)
}

func (s *session) abort(args []string) error {
	return s.finish(args, false)
}

func (s *session) list(args []string) error {
	names := make([]string, 0, len(s.txns))
	for name := range s.txns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		txn := s.txns[name]
		mark := " "
		if name == s.current {
			mark = "*"
		}
		fmt.Fprintf(s.out, "%s %s: txn-id %d, begin-ts %d, %s\n", mark, name, txn.ID(), txn.BeginCID(), txn.Result())
	}
	return nil
}

func (s *session) status(args []string) error {
	mgr := s.tbl.Manager()
	fmt.Fprintf(s.out, "active %d, min-active-begin-ts %d, keys %d, commit-timestamp %s\n",
		mgr.ActiveCount(), mgr.MinActiveBeginCID(), s.tbl.KeyCount(), mgr.CommitPolicy())
	return nil
}
