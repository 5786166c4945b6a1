// Command captionctl drives a running captiond over its HTTP API: it issues
// session commands and can follow the live transcript from the terminal.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type sessionSnapshot struct {
	ID               string  `json:"id"`
	State            string  `json:"state"`
	ElapsedSeconds   float64 `json:"elapsedSeconds"`
	RemainingSeconds float64 `json:"remainingSeconds"`
	SpeakerCount     int     `json:"speakerCount"`
	SegmentCount     int     `json:"segmentCount"`
	ErrorCause       string  `json:"errorCause"`
	Reconnecting     bool    `json:"reconnecting"`
}

type statusResponse struct {
	Session sessionSnapshot `json:"session"`
	Level   struct {
		RMS            float64 `json:"rms"`
		Classification string  `json:"classification"`
	} `json:"level"`
}

type segment struct {
	DisplayLabel    string  `json:"displayLabel"`
	Text            string  `json:"text"`
	OffsetSeconds   float64 `json:"offsetSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type transcriptResponse struct {
	Segments []segment `json:"segments"`
	Interim  struct {
		Text string `json:"text"`
	} `json:"interim"`
}

func main() {
	server := flag.String("server", "http://localhost:8080", "captiond base URL")
	interval := flag.Duration("interval", time.Second, "Poll interval for watch")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: captionctl [flags] start|pause|resume|stop|status|transcript|watch")
		os.Exit(2)
	}

	cmd := flag.Arg(0)
	client := &http.Client{Timeout: 10 * time.Second}

	switch cmd {
	case "start", "pause", "resume", "stop":
		var snap sessionSnapshot
		if err := post(client, *server+"/v1/session/"+cmd, &snap); err != nil {
			log.Fatalf("%s failed: %v", cmd, err)
		}
		fmt.Printf("%s: session=%s state=%s elapsed=%.0fs\n", cmd, snap.ID, snap.State, snap.ElapsedSeconds)
	case "status":
		var st statusResponse
		if err := get(client, *server+"/v1/session", &st); err != nil {
			log.Fatalf("status failed: %v", err)
		}
		fmt.Printf("session=%s state=%s elapsed=%.0fs remaining=%.0fs speakers=%d segments=%d level=%s\n",
			st.Session.ID, st.Session.State, st.Session.ElapsedSeconds, st.Session.RemainingSeconds,
			st.Session.SpeakerCount, st.Session.SegmentCount, st.Level.Classification)
		if st.Session.ErrorCause != "" {
			fmt.Printf("error: %s\n", st.Session.ErrorCause)
		}
		if st.Session.Reconnecting {
			fmt.Println("reconnecting...")
		}
	case "transcript":
		var tr transcriptResponse
		if err := get(client, *server+"/v1/session/transcript", &tr); err != nil {
			log.Fatalf("transcript failed: %v", err)
		}
		printSegments(tr.Segments, 0)
	case "watch":
		watch(client, *server, *interval)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

// watch polls the transcript and prints segments as they arrive.
func watch(client *http.Client, server string, interval time.Duration) {
	printed := 0
	lastInterim := ""
	for {
		var tr transcriptResponse
		if err := get(client, server+"/v1/session/transcript", &tr); err != nil {
			log.Printf("poll failed: %v", err)
			time.Sleep(interval)
			continue
		}
		printed = printSegments(tr.Segments, printed)
		if tr.Interim.Text != "" && tr.Interim.Text != lastInterim {
			fmt.Printf("  ... %s\n", tr.Interim.Text)
			lastInterim = tr.Interim.Text
		}
		time.Sleep(interval)
	}
}

func printSegments(segs []segment, from int) int {
	for _, s := range segs[min(from, len(segs)):] {
		fmt.Printf("[%7.2fs] %s: %s\n", s.OffsetSeconds, s.DisplayLabel, s.Text)
	}
	return len(segs)
}

func post(client *http.Client, url string, out any) error {
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func get(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
