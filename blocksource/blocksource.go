// Package blocksource is the external block collaborator the witness
// forest depends on but does not implement itself (spec §6): a one-shot
// bulk loader over a startup directory, followed by an fsnotify watch over
// a separate directory for new arrivals. The wire format here is a stand-in
// JSON encoding of block.Precomputed — the real upstream decoder producing
// precomputed blocks is out of scope per spec.md §1, but the repo needs
// *some* concrete decoder to run end to end.
package blocksource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	"github.com/mina-indexer/mina-indexer/block"
)

func decodeFile(path string) (*block.Precomputed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blocksource: reading %s: %w", path, err)
	}
	var pb block.Precomputed
	if err := json.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("blocksource: decoding %s: %w", path, err)
	}
	return &pb, nil
}

// BulkLoad walks dir non-recursively and decodes every ".json" file it
// finds, sorted by file name so a directory of sequentially-named
// precomputed blocks is fed to the forest in a stable, repeatable order.
func BulkLoad(dir string) ([]*block.Precomputed, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blocksource: reading startup directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	blocks := make([]*block.Precomputed, 0, len(names))
	for _, name := range names {
		pb, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, pb)
	}
	return blocks, nil
}

// Watcher delivers newly-written precomputed blocks from a watch
// directory as they appear, via fsnotify.
type Watcher struct {
	fsw *fsnotify.Watcher
	out chan *block.Precomputed
	err chan error
}

// Watch starts watching dir for new ".json" files. Blocks decoded
// successfully are sent on Blocks(); decode or watcher errors are sent on
// Errors(). Call Close to stop.
func Watch(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blocksource: creating watch directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("blocksource: creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("blocksource: watching %s: %w", dir, err)
	}

	w := &Watcher{
		fsw: fsw,
		out: make(chan *block.Precomputed, 16),
		err: make(chan error, 16),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				close(w.out)
				close(w.err)
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".json" {
				continue
			}
			pb, err := decodeFile(ev.Name)
			if err != nil {
				w.err <- err
				continue
			}
			w.out <- pb
		case err, ok := <-w.fsw.Errors:
			if !ok {
				continue
			}
			w.err <- err
		}
	}
}

// Blocks returns the channel of successfully decoded blocks.
func (w *Watcher) Blocks() <-chan *block.Precomputed { return w.out }

// Errors returns the channel of decode and filesystem watch errors.
func (w *Watcher) Errors() <-chan error { return w.err }

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
