// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package dispatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Quiet period after the last write before a catalog file is read.
const settleDelay = 250 * time.Millisecond

type settled struct {
	name string
	gen  int
}

// Watch monitors dir for catalog files and calls onCatalog with the keys of each
// file written or moved into it. A file is read once writes to it have been quiet
// for settleDelay, so catalogs written in several chunks are dispatched once.
// Hidden files are ignored. A file is processed again only if its modification
// time changed. Runs until ctx is cancelled.
func Watch(ctx context.Context, dir string, logger *slog.Logger, onCatalog func(fileName string, keys []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Info("watching for catalogs", "dir", dir)

	seen := make(map[string]time.Time)
	pending := make(map[string]*time.Timer)
	gens := make(map[string]int)
	ready := make(chan settled)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if t, ok := pending[event.Name]; ok {
					t.Stop()
				}
				delete(pending, event.Name)
				delete(gens, event.Name)
				delete(seen, event.Name)
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if t, ok := pending[event.Name]; ok {
				t.Stop()
			}
			gens[event.Name]++
			s := settled{name: event.Name, gen: gens[event.Name]}
			pending[event.Name] = time.AfterFunc(settleDelay, func() {
				select {
				case ready <- s:
				case <-ctx.Done():
				}
			})

		case s := <-ready:
			if gens[s.name] != s.gen {
				continue // superseded by a later write
			}
			delete(pending, s.name)
			delete(gens, s.name)

			info, err := os.Stat(s.name)
			if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
				continue
			}
			if mod, ok := seen[s.name]; ok && mod.Equal(info.ModTime()) {
				continue
			}
			keys, err := ReadCatalogFile(s.name)
			if err != nil {
				logger.Error("reading catalog failed", "path", s.name, "err", err)
				continue
			}
			seen[s.name] = info.ModTime()
			logger.Info("catalog found", "path", s.name, "keys", len(keys))
			onCatalog(s.name, keys)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "err", err)
		}
	}
}
