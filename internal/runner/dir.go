package runner

// InDir rewrites command and args so the process starts in dir. Restricted
// runners do not expose a working directory, so the command is wrapped in a
// shell that changes directory first. An empty dir returns the input as is.
func InDir(dir, command string, args []string) (string, []string) {
	if dir == "" {
		return command, args
	}
	wrapped := make([]string, 0, len(args)+5)
	wrapped = append(wrapped, "-c", `cd "$1" && shift && exec "$@"`, "sh", dir, command)
	wrapped = append(wrapped, args...)
	return "sh", wrapped
}
