package remote

import (
	"fmt"
	"path"
	"strings"
)

const sudoPreamble = `SUDO=""
if [ "$(id -u)" -ne 0 ]; then
  if ! command -v sudo >/dev/null 2>&1; then
    echo "sudo is required for non-root remote user" >&2
    exit 1
  fi
  SUDO="sudo"
fi
`

func preamble(l Layout, strict bool) string {
	var b strings.Builder
	if strict {
		b.WriteString("set -eu\n")
	} else {
		b.WriteString("set -u\n")
	}
	if l.Sudo {
		b.WriteString(sudoPreamble)
	} else {
		b.WriteString("SUDO=\"\"\n")
	}
	return b.String()
}

func HostnameScript() string {
	return "set -eu\nhostname\n"
}

func ExistsScript(remotePath string) string {
	return fmt.Sprintf("if [ -e %s ]; then exit 0; fi\nexit 1\n", shellQuote(remotePath))
}

// StagePath is the directory a bundle is unpacked into before the swap.
func StagePath(l Layout, runID string) string {
	return path.Join(l.Root, ".stage-"+runID)
}

// SwapBundleScript unpacks archive into a staging directory next to the
// live tree and then moves it into place. The previous cookbooks/ and
// roles/ are moved aside first and removed only after the new tree is
// live. If the swap stops halfway the trap puts the previous trees back.
func SwapBundleScript(l Layout, archive, runID string) string {
	stage := StagePath(l, runID)
	old := path.Join(l.Root, ".old-"+runID)

	var b strings.Builder
	b.WriteString(preamble(l, true))
	fmt.Fprintf(&b, "root=%s\n", shellQuote(l.Root))
	fmt.Fprintf(&b, "archive=%s\n", shellQuote(archive))
	fmt.Fprintf(&b, "stage=%s\n", shellQuote(stage))
	fmt.Fprintf(&b, "old=%s\n", shellQuote(old))
	b.WriteString(`cleanup() {
  status=$?
  set +e
  if [ "$status" -ne 0 ] && [ -d "$old" ]; then
    for d in cookbooks roles; do
      if [ -e "$old/$d" ]; then
        $SUDO rm -rf "$root/$d"
        $SUDO mv "$old/$d" "$root/$d"
      elif [ -e "$old/$d.absent" ]; then
        $SUDO rm -rf "$root/$d"
      fi
    done
    $SUDO rm -rf "$old"
  fi
  $SUDO rm -rf "$stage"
  rm -f "$archive"
  exit "$status"
}
trap cleanup EXIT
$SUDO mkdir -p "$root" "$stage"
$SUDO tar -xzf "$archive" -C "$stage"
$SUDO mkdir -p "$stage/cookbooks" "$stage/roles"
$SUDO rm -rf "$old"
$SUDO mkdir -p "$old"
for d in cookbooks roles; do
  if [ -e "$root/$d" ]; then
    $SUDO mv "$root/$d" "$old/$d"
  else
    $SUDO touch "$old/$d.absent"
  fi
  $SUDO mv "$stage/$d" "$root/$d"
done
$SUDO rm -rf "$old"
`)
	return b.String()
}

// Install is one staged upload to move into its final place.
type Install struct {
	From string
	To   string
}

// InstallFilesScript moves uploaded files into place with sudo, creating
// parent directories as needed.
func InstallFilesScript(l Layout, files ...Install) string {
	var b strings.Builder
	b.WriteString(preamble(l, true))
	for _, f := range files {
		fmt.Fprintf(&b, "$SUDO mkdir -p %s\n", shellQuote(path.Dir(f.To)))
		fmt.Fprintf(&b, "$SUDO mv -f %s %s\n", shellQuote(f.From), shellQuote(f.To))
	}
	return b.String()
}

// ConvergeScript runs the engine against the uploaded configuration. The
// script exits with the engine's exit status.
func ConvergeScript(l Layout, command, logLevel string) string {
	var b strings.Builder
	b.WriteString(preamble(l, false))
	fmt.Fprintf(&b, "$SUDO %s -c %s -l %s -j %s 2>&1\n",
		shellQuote(command),
		shellQuote(l.SoloConfig()),
		shellQuote(logLevel),
		shellQuote(l.NodeConfig()),
	)
	return b.String()
}

// SoloConfig renders the engine configuration pointing at the layout.
func SoloConfig(l Layout) string {
	return fmt.Sprintf("file_cache_path %q\ncookbook_path %q\nrole_path %q\n",
		l.Root, l.Cookbooks(), l.Roles())
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}
