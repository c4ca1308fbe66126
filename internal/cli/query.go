package cli

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

// NewQueryCommand creates the 'query' subcommand: a one-shot raw DNS client
// against a running proxy instance, grounded on the teacher's query
// subcommand shape (domain + servers positional args, a --qtype flag) but
// talking the wire protocol directly instead of through an HTTP API, since
// this proxy has no submission API (spec.md §1 out-of-scope).
func NewQueryCommand() *cobra.Command {
	var qtype string
	var server string
	var timeoutMS int

	cmd := &cobra.Command{
		Use:     "query [domain]",
		Aliases: []string{"q", "lookup"},
		Short:   "Send a single test query to a running proxy",
		Example: `  # Query the default local proxy
  dnsproxy query github.com

  # Query a specific proxy instance with a specific type
  dnsproxy query --server 127.0.0.1:5353 --qtype AAAA github.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(args[0], server, qtype, time.Duration(timeoutMS)*time.Millisecond)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "127.0.0.1:5353", "Proxy address to query")
	cmd.Flags().StringVarP(&qtype, "qtype", "t", "A", "DNS query type (A, AAAA, PTR, ...)")
	cmd.Flags().IntVarP(&timeoutMS, "timeout-ms", "T", 3000, "Query timeout in milliseconds")

	return cmd
}

func runQuery(domain, server, qtype string, timeout time.Duration) error {
	qt, ok := dns.StringToType[qtype]
	if !ok {
		return fmt.Errorf("unknown query type %q", qtype)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qt)
	msg.RecursionDesired = true

	client := &dns.Client{Net: "udp", Timeout: timeout}
	resp, rtt, err := client.Exchange(msg, server)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Printf("rcode=%s rtt=%s answers=%d\n", dns.RcodeToString[resp.Rcode], rtt, len(resp.Answer))
	for _, rr := range resp.Answer {
		fmt.Println("  " + rr.String())
	}
	return nil
}
