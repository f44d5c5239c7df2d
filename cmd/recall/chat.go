package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/recall/pkg/lock"
)

func chatCMD(load loader) *cobra.Command {
	var user, sessionID string

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Chat with your notes interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, load)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				session, err := a.Sessions.CreateSession(ctx, user, "")
				if err != nil {
					return err
				}
				sessionID = session.ID
			} else if _, err := a.Sessions.GetSession(ctx, user, sessionID); err != nil {
				return err
			}

			color.Cyan("\nChat with your notes (session %s, type 'exit' to quit)", sessionID)

			scanner := bufio.NewScanner(os.Stdin)
			userPrompt := color.New(color.FgGreen).PrintfFunc()
			assistantPrompt := color.New(color.FgCyan).PrintfFunc()

			for {
				userPrompt("\nYou: ")
				if !scanner.Scan() {
					break
				}
				query := strings.TrimSpace(scanner.Text())
				if strings.ToLower(query) == "exit" {
					break
				}
				if query == "" {
					continue
				}

				release, err := a.Locker.Acquire(ctx, lock.SessionKey(sessionID))
				if err != nil {
					color.Red("Error: %v", err)
					continue
				}

				spinner := getSpinner("🔍 Searching your notes...")
				turn, err := a.Coordinator.PostMessage(ctx, sessionID, user, query)
				if err != nil {
					spinner.Finish()
					release()
					color.Red("Error: %v", err)
					continue
				}

				first := true
				for seg := range turn.Segments() {
					if first {
						spinner.Finish()
						fmt.Print("\n")
						assistantPrompt("Assistant: ")
						first = false
					}
					assistantPrompt("%s", seg)
				}
				if first {
					spinner.Finish()
				}
				result := turn.Wait()
				release()

				fmt.Print("\n")
				if result.Degraded {
					color.Yellow("(answered without note context: retrieval is unavailable)")
				}
				if result.Err != nil {
					color.Red("Error: %v", result.Err)
				}
			}
			return scanner.Err()
		},
	}
	chat.Flags().StringVar(&user, "user", "", "user to chat as")
	chat.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	_ = chat.MarkFlagRequired("user")
	return chat
}
