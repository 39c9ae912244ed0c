package manifestclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

// ManifestParseError is returned by ParseRoot when a required field is
// absent. It is fatal for the orchestrator run (spec §7).
type ManifestParseError struct {
	Missing string
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("manifest: root descriptor missing required field %q", e.Missing)
}

// ParseRoot parses the `key=value` line-oriented root descriptor document
// (spec §4.1, §6). Unknown keys are ignored. Missing numeric fields default
// per spec; PatchURL and MasterURL are required.
func ParseRoot(body []byte) (model.RootDescriptor, error) {
	r := model.RootDescriptor{
		ThreadNum:         model.DefaultThreadNum,
		ParallelThreadNum: model.DefaultParallelThreadNum,
		RetryNum:          model.DefaultRetryNum,
		TimeoutMS:         model.DefaultTimeoutMS,
	}

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "PatchURL":
			r.PatchURL = val
		case "MasterURL":
			r.MasterURL = val
		case "BackupPatchURL":
			r.BackupPatchURL = val
		case "BackupMasterURL":
			r.BackupMasterURL = val
		case "ThreadNum":
			if n, err := strconv.Atoi(val); err == nil {
				r.ThreadNum = n
			}
		case "ParallelThreadNum":
			if n, err := strconv.Atoi(val); err == nil {
				r.ParallelThreadNum = n
			}
		case "RetryNum":
			if n, err := strconv.Atoi(val); err == nil {
				r.RetryNum = n
			}
		case "TimeOut":
			if n, err := strconv.Atoi(val); err == nil {
				r.TimeoutMS = n
			}
		}
	}

	if r.PatchURL == "" {
		return r, &ManifestParseError{Missing: "PatchURL"}
	}
	if r.MasterURL == "" {
		return r, &ManifestParseError{Missing: "MasterURL"}
	}

	return r, nil
}

// ParseList parses a TAB-separated manifest sub-list body (spec §4.1, §6).
// Accepted row shapes:
//
//	<name>\t<size>\t<md5>                     (channel unknown)
//	<name>\t<md5>\t<size>\t<channel-char>      ('p' => patch channel)
//
// Unparseable lines are skipped (collected in the returned skipped count)
// rather than aborting the whole list.
func ParseList(body []byte, reboot bool) (entries []model.Entry, skipped int) {
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")

		var e model.Entry
		switch len(fields) {
		case 3:
			size, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
			if err != nil {
				skipped++
				continue
			}
			e = model.Entry{
				Name: fields[0],
				Size: size,
				MD5:  strings.TrimSpace(fields[2]),
			}
		case 4:
			size, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
			if err != nil {
				skipped++
				continue
			}
			ch := model.ChannelUnknown
			if strings.TrimSpace(fields[3]) == "p" {
				ch = model.ChannelPatch
			}
			e = model.Entry{
				Name:    fields[0],
				MD5:     strings.TrimSpace(fields[1]),
				Size:    size,
				Channel: ch,
			}
		default:
			skipped++
			continue
		}

		e.Reboot = reboot
		entries = append(entries, e)
	}
	return entries, skipped
}
