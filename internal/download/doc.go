// Package download provides resumable episode downloads and the status
// aggregation that sits on top of them.
//
// # Task
//
// A Task moves one episode from its source URI to a file in the episode
// directory. Bytes are first written to a temp file under
// Options.TempDir/downloads/<host>/, so an interrupted transfer can be
// resumed by the next task created for the same episode:
//
//	task, err := download.Create(registry, ep, download.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	task.Subscribe(&download.TaskObserver{
//	    OnProgressChanged: func(ev download.ProgressEvent) {
//	        fmt.Printf("%d%%\n", ev.Percent)
//	    },
//	})
//	task.Execute()
//	<-task.Done()
//
// Cancellation is cooperative: Cancel flags the episode and the worker
// observes the flag between chunks, removes the temp file and stops as
// Canceled.
//
// # StatusManager
//
// A StatusManager counts bytes, lengths and outcomes across every task
// registered with it. While downloads are running it recomputes a smoothed
// transfer rate on a fixed interval and publishes a Status snapshot.
//
// # Manager
//
// The Manager coordinates a whole run:
//
//  1. Probe queued episodes with HEAD to learn their lengths
//  2. Download episodes concurrently
//  3. Retry failed transfers with an exponential cooldown
//  4. Tag MP3 files with ID3 metadata and artwork
//  5. Copy completed files into an archive bucket (optional)
//  6. Generate playlists (optional)
//
// Human-readable messages are reported through a callback:
//
//	manager := download.NewManager(settings, status, func(n download.Notice) {
//	    fmt.Println(n.Message)
//	})
//	manager.EnqueueURLs("https://example.com/ep1.mp3")
//	if err := manager.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package download
