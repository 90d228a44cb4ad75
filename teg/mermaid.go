package teg

import (
	"fmt"
	"strings"
)

// Mermaid renders the graph as a Mermaid flowchart. Resource links carry the
// resource name and control links are dotted.
func Mermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, n := range g.Nodes() {
		label := n.Label
		if label == "" {
			label = n.Effect.Kind.String()
			if n.Effect.Kind == EPerform {
				label = n.Effect.Tag
			}
		}
		fmt.Fprintf(&b, "    %s[\"%s<br/>%s\"]\n", n.ID.Short(), escape(label), n.Status)
	}
	for _, e := range g.edges {
		from, to := e.From.Short(), e.To.Short()
		switch e.Kind {
		case ResourceLink:
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", from, escape(e.Label), to)
		case ControlLink:
			fmt.Fprintf(&b, "    %s -.->|%s| %s\n", from, escape(e.Label), to)
		default:
			fmt.Fprintf(&b, "    %s --> %s\n", from, to)
		}
	}
	return b.String()
}

func escape(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "|", "#124;").Replace(s)
}
