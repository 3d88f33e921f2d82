package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var ticketStatusFilter string

// ticketsCmd works with escalation tickets
var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "List and inspect escalation tickets",
	Long: `List escalation tickets, show one ticket, add comments or change status.

Examples:
  # List open tickets
  remedyctl tickets --status OPEN

  # Show one ticket
  remedyctl tickets show DQ-0001

  # Append a comment
  remedyctl tickets comment DQ-0001 "Root cause found upstream"

  # Change status
  remedyctl tickets status DQ-0001 RESOLVED`,
	RunE: runListTickets,
}

func init() {
	ticketsCmd.Flags().StringVar(&ticketStatusFilter, "status", "", "filter by status (e.g. OPEN)")
	ticketsCmd.AddCommand(ticketShowCmd)
	ticketsCmd.AddCommand(ticketCommentCmd)
	ticketsCmd.AddCommand(ticketStatusCmd)
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Show one ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowTicket,
}

var ticketCommentCmd = &cobra.Command{
	Use:   "comment <ticket-id> <text>",
	Short: "Append a comment to a ticket",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCommentTicket,
}

var ticketStatusCmd = &cobra.Command{
	Use:   "status <ticket-id> <new-status>",
	Short: "Change a ticket's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTicketStatus,
}

// Ticket matches internal/ticket Ticket
type Ticket struct {
	TicketID     string    `json:"ticket_id"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description"`
	Priority     string    `json:"priority"`
	AffectedRows int64     `json:"affected_rows"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	Assignee     string    `json:"assignee"`
	Labels       []string  `json:"labels"`
	Comments     []struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	} `json:"comments"`
	Attachment *struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"attachment,omitempty"`
}

// TicketsResponse matches internal/http TicketsResponse
type TicketsResponse struct {
	Tickets []Ticket `json:"tickets"`
}

// runListTickets handles the tickets command
func runListTickets(cmd *cobra.Command, args []string) error {
	path := "/api/v1/tickets"
	if ticketStatusFilter != "" {
		path += "?status=" + ticketStatusFilter
	}

	var resp TicketsResponse
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	if len(resp.Tickets) == 0 {
		fmt.Println("No tickets.")
		return nil
	}

	for _, tk := range resp.Tickets {
		fmt.Printf("%s  [%s] %s  (%s, %s)\n",
			tk.TicketID, tk.Status, tk.Summary, tk.Priority, tk.Assignee)
	}
	return nil
}

// runShowTicket handles the tickets show command
func runShowTicket(cmd *cobra.Command, args []string) error {
	var tk Ticket
	if err := getJSON("/api/v1/tickets/"+args[0], &tk); err != nil {
		return err
	}
	return printJSON(tk)
}

// runCommentTicket handles the tickets comment command
func runCommentTicket(cmd *cobra.Command, args []string) error {
	body := struct {
		Text string `json:"text"`
	}{Text: strings.Join(args[1:], " ")}

	if err := sendJSON("POST", "/api/v1/tickets/"+args[0]+"/comments", body, nil); err != nil {
		return err
	}

	fmt.Printf("Comment added to %s\n", args[0])
	return nil
}

// runTicketStatus handles the tickets status command
func runTicketStatus(cmd *cobra.Command, args []string) error {
	body := struct {
		Status string `json:"status"`
	}{Status: args[1]}

	if err := sendJSON("PATCH", "/api/v1/tickets/"+args[0]+"/status", body, nil); err != nil {
		return err
	}

	fmt.Printf("%s is now %s\n", args[0], args[1])
	return nil
}
