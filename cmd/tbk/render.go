package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// parseScore validates the score and normalizes it to a valid JSON number
// (decimal accepts forms like "+10" that JSON does not).
func parseScore(raw string) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("score must be a number: %q", raw)
	}
	return d.String(), nil
}

// scoreNumber keeps the score numeric in the queued JSON body so a replay
// sends exactly what a live add would.
func scoreNumber(normalized string) json.Number {
	return json.Number(normalized)
}

func printScore(v any) string {
	d, err := decimal.NewFromString(fmt.Sprintf("%v", v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := d.StringFixed(2)
	if d.IsNegative() {
		return danger.Sprint(s)
	}
	return success.Sprint("+" + s)
}

func renderProfile(profile map[string]any) {
	accent.Println("Account")
	fmt.Printf("  Email: %v\n", profile["email"])
	fmt.Printf("  Tier:  %v\n", profile["subscriptionTier"])
	fmt.Printf("  Free uploads left: %v\n", profile["uploadsLeft"])
}

func renderAddResult(out map[string]any) {
	printSuccess(fmt.Sprintf("Recorded %v (%v)", out["sessionName"], out["entryId"]))
	fmt.Printf("Net score: %s\n", printScore(out["netScore"]))
}

func renderBankroll(out map[string]any) {
	if status, _ := out["status"].(string); status == "not-initialized" {
		printInfo("No sessions recorded yet. Run `tbk add` after your first game.")
		return
	}
	accent.Println("Bankroll")
	fmt.Printf("  Net score: %s\n", printScore(out["netScore"]))

	entries, _ := out["entries"].([]any)
	if len(entries) == 0 {
		printInfo("  No entries.")
		return
	}
	fmt.Println()
	fmt.Printf("  %-28s %-12s %10s  %s\n", "NAME", "DATE", "SCORE", "ID")
	for _, raw := range entries {
		e, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("  %-28v %-12v %10s  %v\n", e["name"], e["date"], printScore(e["score"]), e["id"])
	}
}
