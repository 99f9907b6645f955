package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/wwwzy/sweepchat/internal/storage"
	"gorm.io/gorm"
)

func main() {
	path := flag.String("db", "sweepchat.db", "path to the sqlite database")
	flag.Parse()

	db, err := gorm.Open(sqlite.Open(*path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	fmt.Println("--- Verifying sweepchat Database ---")

	var turnCount int64
	if !db.Migrator().HasTable(&storage.ConversationTurn{}) {
		fmt.Println("Table 'conversation_turns' does not exist yet.")
	} else {
		db.Model(&storage.ConversationTurn{}).Count(&turnCount)
		fmt.Printf("Total Conversation Turns: %d\n", turnCount)

		if turnCount > 0 {
			var turns []storage.ConversationTurn
			db.Order("id desc").Limit(5).Find(&turns)
			fmt.Println("Latest 5 Turns (Local Time):")
			for _, t := range turns {
				fmt.Printf("  [%s] %s: %q -> %q\n",
					t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Sender, clip(t.Message), clip(t.Response))
			}
		}
	}

	fmt.Println("\n------------------------------------")

	var auditCount int64
	if !db.Migrator().HasTable(&storage.AuditRecord{}) {
		fmt.Println("Table 'audit_records' does not exist yet.")
	} else {
		db.Model(&storage.AuditRecord{}).Count(&auditCount)
		fmt.Printf("Total Tool Audit Records: %d\n", auditCount)

		if auditCount > 0 {
			var recs []storage.AuditRecord
			db.Order("id desc").Limit(5).Find(&recs)
			fmt.Println("Latest 5 Tool Calls (Local Time):")
			for _, r := range recs {
				fmt.Printf("  [%s] %s %s thread=%s %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Action, r.Status, r.ThreadID, clip(r.ParamsJSON))
			}
		}
	}
}

func clip(s string) string {
	if len(s) > 50 {
		return s[:47] + "..."
	}
	return s
}
