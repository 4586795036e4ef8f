package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"telecare/internal/domain"
	"telecare/internal/store/badgerdb"
)

func main() {
	dbPath := flag.String("db", "data/badger", "Path to badger DB")
	participant := flag.String("participant", "", "Only show conversations of this participant")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	store := badgerdb.New(db, logs.GetLoggerFromString("ERROR"))
	defer store.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Participant A", "Unread A", "Participant B", "Unread B", "Messages", "Last message", "At"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = store.Each(func(c domain.Conversation, messages int) {
		if *participant != "" && !c.Has(*participant) {
			return
		}
		a, b := c.Participants[0], c.Participants[1]
		last, at := "", ""
		if c.LastMessage != nil {
			last = truncate(c.LastMessage.Text, 40)
			at = c.LastMessage.Timestamp.Format(time.DateTime)
		}
		table.Append([]string{
			c.ID,
			fmt.Sprintf("%s (%s)", a.ID, a.Role),
			strconv.Itoa(a.UnreadCount),
			fmt.Sprintf("%s (%s)", b.ID, b.Role),
			strconv.Itoa(b.UnreadCount),
			strconv.Itoa(messages),
			last,
			at,
		})
		rows++
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d conversation(s)\n", rows)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
