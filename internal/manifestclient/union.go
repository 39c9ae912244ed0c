package manifestclient

import "github.com/Sakurayuki-A/stardriver/internal/model"

// Sub-list names (spec §4.3, §6).
const (
	ListPrologue = "patchlist_prologue.txt"
	ListReboot   = "patchlist_reboot.txt"
	ListLauncher = "launcherlist.txt"
)

// Union de-duplicates by Entry.Key() (suffix-stripped, case-insensitive
// relative path) and applies the precedence order required by the
// selection: reboot overrides prologue, launcher only fills gaps neither
// prior list provided (spec §4.3, property P5).
func Union(selection model.ClientSelection, prologue, reboot, launcher []model.Entry) []model.Entry {
	byKey := make(map[string]model.Entry)
	order := make([]string, 0, len(prologue)+len(reboot)+len(launcher))

	put := func(entries []model.Entry, overrideExisting bool) {
		for _, e := range entries {
			key := e.Key()
			if _, exists := byKey[key]; exists {
				if overrideExisting {
					byKey[key] = e
				}
				continue
			}
			byKey[key] = e
			order = append(order, key)
		}
	}

	switch selection {
	case model.LauncherOnly:
		put(launcher, true)
	case model.MainOnly:
		put(reboot, true)
		put(launcher, false)
	default: // FullDataset
		put(prologue, true)
		put(reboot, true)
		put(launcher, false)
	}

	out := make([]model.Entry, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}
