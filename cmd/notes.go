package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/illarion/passvault/internal/core"
)

// readContent returns content, or stdin when content is "-"
func readContent(content string) string {
	if content != "-" {
		return content
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		HandleError(err)
	}
	return strings.TrimRight(string(data), "\n")
}

// NoteAdd stores a secure note
func NoteAdd(env *Env, title, content string) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	id, err := m.AddNote(core.NoteInput{Title: title, Content: readContent(content)})
	if err != nil {
		HandleError(err)
	}
	fmt.Printf("✓ Added note %q (%s)\n", title, id)
}

// NoteList prints note titles, optionally filtered by title substring
func NoteList(env *Env, filter string, asJSON bool) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	list, err := m.GetNotes(filter)
	if err != nil {
		HandleError(err)
	}
	if asJSON {
		printJSON(list)
		return
	}
	if len(list.Notes) == 0 {
		fmt.Println("No notes")
	}
	for _, n := range list.Notes {
		fmt.Printf("%s  %s  (%s)\n", n.ID, n.Title, formatTime(n.ModifiedAt))
	}
	for _, id := range list.Skipped {
		fmt.Fprintf(os.Stderr, "warning: could not decrypt %s\n", id)
	}
}

// NoteShow prints a note's content
func NoteShow(env *Env, id string) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	n, err := m.GetNote(id)
	if err != nil {
		HandleError(err)
	}
	fmt.Printf("# %s\n\n%s\n", n.Title, n.Content)
}

// NoteEdit replaces a note's title and content. An empty title keeps the
// current one.
func NoteEdit(env *Env, id, title, content string) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	current, err := m.GetNote(id)
	if err != nil {
		HandleError(err)
	}
	in := core.NoteInput{Title: current.Title, Content: current.Content}
	if title != "" {
		in.Title = title
	}
	if content != "" {
		in.Content = readContent(content)
	}
	if err := m.UpdateNote(id, in); err != nil {
		HandleError(err)
	}
	fmt.Printf("✓ Updated note %s\n", id)
}

// NoteRemove deletes notes by id
func NoteRemove(env *Env, ids []string) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	for _, id := range ids {
		if err := m.DeleteNote(id); err != nil {
			HandleError(err)
		}
		fmt.Printf("removed: %s\n", id)
	}
}
