package queue

type keys struct {
	base      string
	id        string
	wait      string
	active    string
	delayed   string
	completed string
	failed    string
	repeat    string
}

func keysFor(prefix, name string) keys {
	base := prefix + ":" + name
	return keys{
		base:      base,
		id:        base + ":id",
		wait:      base + ":wait",
		active:    base + ":active",
		delayed:   base + ":delayed",
		completed: base + ":completed",
		failed:    base + ":failed",
		repeat:    base + ":repeat",
	}
}

func (k keys) job(id string) string  { return k.base + ":job:" + id }
func (k keys) lock(id string) string { return k.base + ":lock:" + id }
