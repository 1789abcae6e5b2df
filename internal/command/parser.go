package command

import "strings"

// ParseResult is the outcome of scanning free text for a command
// invocation. All fields are zero when no registered command was found.
type ParseResult struct {
	Command string
	Target  string
	Params  []string
}

// Parser scans post text for command invocations. Commands are marked
// with the command sigil, targets with the trigger sigil; anything after
// the target is a parameter.
type Parser struct {
	commandSigil string
	triggerSigil string
	known        map[string]struct{}
}

// NewParser creates a Parser recognizing the given command names
func NewParser(commandSigil, triggerSigil string, names []string) *Parser {
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[strings.ToLower(name)] = struct{}{}
	}
	return &Parser{
		commandSigil: commandSigil,
		triggerSigil: triggerSigil,
		known:        known,
	}
}

// Parse scans text left to right. The first sigil token is the candidate
// keyword: if it is not a registered command the scan aborts with a zero
// result. After the keyword, a trigger-sigil token sets the target once,
// and every token after the target is a parameter. A plain token between
// keyword and target aborts the scan, keeping only the keyword.
func (p *Parser) Parse(text string) ParseResult {
	var res ParseResult
	targetSet := false
	for _, tok := range strings.Fields(text) {
		if res.Command == "" {
			if !strings.HasPrefix(tok, p.commandSigil) {
				continue
			}
			name := strings.ToLower(strings.TrimPrefix(tok, p.commandSigil))
			if _, ok := p.known[name]; !ok {
				return ParseResult{}
			}
			res.Command = name
			continue
		}
		if targetSet {
			res.Params = append(res.Params, tok)
			continue
		}
		if strings.HasPrefix(tok, p.triggerSigil) {
			res.Target = strings.TrimPrefix(tok, p.triggerSigil)
			targetSet = true
			continue
		}
		// Plain text before any target ends the scan
		break
	}
	return res
}
