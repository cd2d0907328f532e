package sqlinline

const QSelectPhotoByID = `--sql bd1f08e9-86aa-4730-a589-fd3550e47f3b
select id::text, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
       result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
       created_at, updated_at, started_at, completed_at
from photos
where id = $1::uuid;
`

const QAdmitPhoto = `--sql 6f06fb42-5be5-4601-b730-3c64ad432f64
with debit as (
    update user_credits
    set credits = case when unlimited then credits else credits - $12::int end,
        updated_at = now()
    where user_id = $2::text
      and (unlimited or credits >= $12::int)
    returning credits, unlimited
),
inserted as (
    insert into photos (
        id, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
        status, title, description, created_at, updated_at
    )
    select $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::bigint,
           'PENDING', $8::text, $9::text, $10::timestamptz, $11::timestamptz
    where exists (select 1 from debit)
    returning id
)
select d.credits, d.unlimited, (select id::text from inserted)
from debit d;
`

const QClaimPhoto = `--sql 852a7484-4259-4287-964e-5cf81b090a64
update photos
set status = 'PROCESSING',
    attempts = attempts + 1,
    error_code = '',
    error_message = '',
    started_at = $2::timestamptz,
    updated_at = $2::timestamptz
where id = $1::uuid
  and status in ('PENDING', 'FAILED')
returning id::text, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
          result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
          created_at, updated_at, started_at, completed_at;
`

const QCompletePhoto = `--sql 5ddb4ef2-c4d3-4e90-b7dc-fc90a9673003
update photos
set status = 'COMPLETED',
    result_ref = $2::text,
    result_checksum = $3::text,
    error_code = '',
    error_message = '',
    completed_at = $4::timestamptz,
    updated_at = $4::timestamptz
where id = $1::uuid
  and status = 'PROCESSING';
`

const QFailPhoto = `--sql d00fa0c1-db4c-474c-aed5-56e496274fba
update photos
set status = 'FAILED',
    error_code = $2::text,
    error_message = $3::text,
    updated_at = $4::timestamptz
where id = $1::uuid
  and status = 'PROCESSING';
`

const QResetPhoto = `--sql 312bace9-09d7-4b65-ad10-aacdee8b7af1
update photos
set status = 'PENDING',
    result_ref = null,
    result_checksum = '',
    completed_at = null,
    updated_at = $4::timestamptz
where id = $1::uuid
  and status = $2::text
  and updated_at < $3::timestamptz;
`

const QListStalePendingPhotos = `--sql 140dc991-0bc8-4834-bec7-28f5c7d8b950
select id::text, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
       result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
       created_at, updated_at, started_at, completed_at
from photos
where status = 'PENDING'
  and created_at < $1::timestamptz
order by created_at asc
limit $2::int;
`

const QListStalledProcessingPhotos = `--sql 1d87d5ff-ccb3-4d34-ad0e-dd48e3327b12
select id::text, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
       result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
       created_at, updated_at, started_at, completed_at
from photos
where status = 'PROCESSING'
  and updated_at < $1::timestamptz
order by updated_at asc
limit $2::int;
`

const QListCompletedPhotos = `--sql 1e24d8e5-138b-4567-899b-f96e9e916022
select id::text, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
       result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
       created_at, updated_at, started_at, completed_at
from photos
where status = 'COMPLETED'
  and updated_at >= $1::timestamptz
order by updated_at desc
limit $2::int;
`

const QUpdatePhotoDetails = `--sql c6359e0c-d99b-4376-854e-834d216f4123
update photos
set title = $3::text,
    description = $4::text,
    updated_at = $5::timestamptz
where id = $1::uuid
  and owner_id = $2::text
returning id::text, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
          result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
          created_at, updated_at, started_at, completed_at;
`
