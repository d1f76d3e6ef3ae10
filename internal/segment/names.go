package segment

import (
	"strconv"
	"strings"
	"time"
)

const (
	nameLayout = "20060102150405"
	nameExt    = ".wav"
)

// namer issues timestamp filenames and never hands out the same name twice.
// Two segments opened within the same wall-clock second get -1, -2, ...
type namer struct {
	now    func() time.Time
	issued map[string]struct{}
}

func newNamer(now func() time.Time) *namer {
	return &namer{now: now, issued: make(map[string]struct{})}
}

func (n *namer) next() string {
	return n.free(n.now().Format(nameLayout), 0)
}

// after returns the first unissued name that follows taken in the -N
// sequence of its timestamp. Used when a name collides with a file that
// already exists on disk.
func (n *namer) after(taken string) string {
	n.issued[taken] = struct{}{}
	base := strings.TrimSuffix(taken, nameExt)
	i := 0
	if stamp, suffix, ok := strings.Cut(base, "-"); ok {
		if v, err := strconv.Atoi(suffix); err == nil && v > 0 {
			base, i = stamp, v
		}
	}
	return n.free(base, i+1)
}

// free issues the first name for base with suffix >= from that has not been
// handed out. A zero suffix means no suffix.
func (n *namer) free(base string, from int) string {
	for i := from; ; i++ {
		name := base + nameExt
		if i > 0 {
			name = base + "-" + strconv.Itoa(i) + nameExt
		}
		if _, taken := n.issued[name]; !taken {
			n.issued[name] = struct{}{}
			return name
		}
	}
}
