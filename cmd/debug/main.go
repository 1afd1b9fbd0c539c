package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"

	"github.com/automerge/automerge-go"
	"github.com/spf13/pflag"

	"github.com/astromechza/groupmap/pkg/engine"
	"github.com/astromechza/groupmap/pkg/group"
	"github.com/astromechza/groupmap/pkg/store/docstore"
	"github.com/astromechza/groupmap/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	relayAddr := fs.String("relay", "", "fetch the latest document from this relay instead of a file")
	storeName := fs.String("store", "default", "namespace to fetch from the relay")
	prefix := fs.String("prefix", engine.DefaultConfig().Prefix, "group key prefix")
	key := fs.String("key", "", "key whose value history to print")
	svg := fs.String("svg", "", "render the history of --key to this SVG file")
	if err := fs.Parse(os.Args[1:]); errors.Is(err, pflag.ErrHelp) {
		return nil
	} else if err != nil {
		return err
	}

	var raw []byte
	var err error
	if *relayAddr != "" {
		raw, err = fetch(*relayAddr, *storeName)
	} else if fs.NArg() == 1 {
		raw, err = os.ReadFile(fs.Arg(0))
	} else {
		return fmt.Errorf("expected one position argument: the file to read, or --relay")
	}
	if err != nil {
		return err
	}

	st, err := docstore.Load(raw)
	if err != nil {
		return err
	}
	slog.Info("loaded doc", "heads", st.Heads(), "actor", st.ActorID())

	snap, err := st.SnapshotAll(context.Background())
	if err != nil {
		return err
	}
	naming := group.NewNaming(*prefix)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := naming.Index(k); !ok {
			slog.Info("other key", "key", k, "value", snap[k])
			continue
		}
		d, err := group.ParseDescriptor(snap[k], "")
		if err != nil {
			slog.Warn("malformed group", "key", k, "err", err)
			continue
		}
		slog.Info("group", "name", k, "position", d.Position, "color", d.Color)
	}

	doc, err := st.Fork()
	if err != nil {
		return fmt.Errorf("failed to fork doc: %w", err)
	}
	if err := printChanges(doc); err != nil {
		return err
	}
	if *key == "" {
		return nil
	}

	steps, err := viz.History(doc, *key)
	if err != nil {
		return err
	}
	for i, step := range steps {
		slog.Info("value", "i", fmt.Sprintf("%4d", i), "hash", step.Hash[:8], "actor", step.Actor, "seq", step.Seq, "value", step.Value)
	}
	if *svg != "" {
		if err := viz.RenderToFile(doc, *key, *svg); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svg)
	}
	return nil
}

func printChanges(doc *automerge.Doc) error {
	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	slog.Info("changes:")
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "message", change.Message(), "dep", change.Dependencies())
	}
	return nil
}

func fetch(addr, store string) ([]byte, error) {
	u, err := url.Parse("http://" + addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay address: %w", err)
	}
	resp, err := http.DefaultClient.Get(u.JoinPath("stores", store, "latest").String())
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from get: %w", err)
	}
	return raw, nil
}
