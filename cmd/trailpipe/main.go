// Trailpipe imports one day of CloudTrail audit logs from S3 and forwards
// every record to the configured outputs.
package main

func main() {
	Execute()
}
