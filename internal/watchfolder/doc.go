// Package watchfolder keeps one OS watch per configured folder and turns
// file-creation events into uploads.
//
// A Registry reconciles its entries against a ConfigSource (the default task
// and the per-hotkey tasks). Each Entry owns at most one watcher.Handle and
// is enabled only while its task has watching enabled. Files reported by an
// entry pass through the trigger pipeline: snapshot the task, optionally move
// the file into the task's screenshots folder, then submit it for upload.
// Trigger failures are reported to a notify.Sink and never affect the watch.
package watchfolder
